package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// FollowStore is a PostgreSQL implementation of storage.FollowStore.
type FollowStore struct {
	pool *Pool
}

// NewFollowStore creates a new PostgreSQL follow store.
func NewFollowStore(pool *Pool) *FollowStore {
	return &FollowStore{pool: pool}
}

const followColumns = `copytrader_id, user_id, leader_address, active, started_at, stopped_at`

// Upsert creates a follow or reactivates a stopped one.
// An already active follow keeps its started_at.
func (s *FollowStore) Upsert(ctx context.Context, f *domain.LeaderFollow) error {
	if f == nil || f.CopytraderID == "" || f.LeaderAddress == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO leader_follows (`+followColumns+`)
		VALUES ($1, $2, $3, TRUE, $4, NULL)
		ON CONFLICT (copytrader_id) DO UPDATE
		SET active = TRUE,
		    stopped_at = NULL,
		    started_at = CASE WHEN leader_follows.active THEN leader_follows.started_at ELSE EXCLUDED.started_at END
	`, f.CopytraderID, f.UserID, f.LeaderAddress, f.StartedAt)
	if err != nil {
		return fmt.Errorf("upsert follow: %w", err)
	}
	return nil
}

// Deactivate soft-deletes an active follow.
func (s *FollowStore) Deactivate(ctx context.Context, copytraderID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE leader_follows
		SET active = FALSE, stopped_at = $2
		WHERE copytrader_id = $1 AND active
	`, copytraderID, at)
	if err != nil {
		return fmt.Errorf("deactivate follow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get retrieves a follow. Returns ErrNotFound if not exists.
func (s *FollowStore) Get(ctx context.Context, copytraderID string) (*domain.LeaderFollow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+followColumns+`
		FROM leader_follows
		WHERE copytrader_id = $1
	`, copytraderID)

	f, err := scanFollow(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get follow: %w", err)
	}
	return f, nil
}

// ListActive retrieves all active follows, ordered by started_at ASC.
func (s *FollowStore) ListActive(ctx context.Context) ([]*domain.LeaderFollow, error) {
	return s.list(ctx, `
		SELECT `+followColumns+`
		FROM leader_follows
		WHERE active
		ORDER BY started_at ASC, copytrader_id ASC
	`)
}

// ListByUser retrieves active follows of a follower.
func (s *FollowStore) ListByUser(ctx context.Context, userID string) ([]*domain.LeaderFollow, error) {
	return s.list(ctx, `
		SELECT `+followColumns+`
		FROM leader_follows
		WHERE active AND user_id = $1
		ORDER BY started_at ASC, copytrader_id ASC
	`, userID)
}

func (s *FollowStore) list(ctx context.Context, query string, args ...any) ([]*domain.LeaderFollow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	defer rows.Close()

	var result []*domain.LeaderFollow
	for rows.Next() {
		f, err := scanFollow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan follow: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func scanFollow(row pgx.Row) (*domain.LeaderFollow, error) {
	var f domain.LeaderFollow
	err := row.Scan(&f.CopytraderID, &f.UserID, &f.LeaderAddress, &f.Active, &f.StartedAt, &f.StoppedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

var _ storage.FollowStore = (*FollowStore)(nil)
