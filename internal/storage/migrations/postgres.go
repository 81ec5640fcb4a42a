package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"go.uber.org/zap"

	"copytrade-engine/internal/storage/postgres"
)

// RunPostgresMigrations applies every embedded postgres file in order.
// Files use IF NOT EXISTS and are safe to re-apply on each start.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		log.Debug("applied migration", zap.String("file", file))
	}

	log.Info("postgres schema up to date", zap.Int("files", len(files)))
	return nil
}
