package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// CopyConfigStore is a PostgreSQL implementation of storage.CopyConfigStore.
type CopyConfigStore struct {
	pool *Pool
}

// NewCopyConfigStore creates a new PostgreSQL configuration store.
func NewCopyConfigStore(pool *Pool) *CopyConfigStore {
	return &CopyConfigStore{pool: pool}
}

const configColumns = `copytrader_id, user_id, sizing_mode, sizing_value, max_slippage_bps,
	max_leverage, notional_cap, allowed_pairs, blocked_pairs, enabled, created_at, updated_at`

// Upsert creates or replaces a configuration, keeping the original created_at.
func (s *CopyConfigStore) Upsert(ctx context.Context, cfg *domain.CopyConfiguration) error {
	if cfg == nil || cfg.CopytraderID == "" {
		return storage.ErrInvalidInput
	}

	allowed := cfg.PairFilters.Allowed
	if allowed == nil {
		allowed = []string{}
	}
	blocked := cfg.PairFilters.Blocked
	if blocked == nil {
		blocked = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO copy_configurations (`+configColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (copytrader_id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    sizing_mode = EXCLUDED.sizing_mode,
		    sizing_value = EXCLUDED.sizing_value,
		    max_slippage_bps = EXCLUDED.max_slippage_bps,
		    max_leverage = EXCLUDED.max_leverage,
		    notional_cap = EXCLUDED.notional_cap,
		    allowed_pairs = EXCLUDED.allowed_pairs,
		    blocked_pairs = EXCLUDED.blocked_pairs,
		    enabled = EXCLUDED.enabled,
		    updated_at = EXCLUDED.updated_at
	`,
		cfg.CopytraderID,
		cfg.UserID,
		string(cfg.SizingMode),
		cfg.SizingValue,
		cfg.MaxSlippageBps,
		cfg.MaxLeverage,
		nullDecimal(cfg.NotionalCap),
		allowed,
		blocked,
		cfg.Enabled,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert copy configuration: %w", err)
	}
	return nil
}

// Get retrieves a configuration. Returns ErrNotFound if not exists.
func (s *CopyConfigStore) Get(ctx context.Context, copytraderID string) (*domain.CopyConfiguration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+configColumns+`
		FROM copy_configurations
		WHERE copytrader_id = $1
	`, copytraderID)

	cfg, err := scanConfig(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get copy configuration: %w", err)
	}
	return cfg, nil
}

// ListByUser retrieves a follower's configurations, ordered by created_at ASC.
func (s *CopyConfigStore) ListByUser(ctx context.Context, userID string) ([]*domain.CopyConfiguration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+configColumns+`
		FROM copy_configurations
		WHERE user_id = $1
		ORDER BY created_at ASC, copytrader_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list copy configurations: %w", err)
	}
	defer rows.Close()

	var result []*domain.CopyConfiguration
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan copy configuration: %w", err)
		}
		result = append(result, cfg)
	}
	return result, rows.Err()
}

func scanConfig(row pgx.Row) (*domain.CopyConfiguration, error) {
	var (
		cfg         domain.CopyConfiguration
		sizingMode  string
		notionalCap decimal.NullDecimal
	)
	err := row.Scan(
		&cfg.CopytraderID,
		&cfg.UserID,
		&sizingMode,
		&cfg.SizingValue,
		&cfg.MaxSlippageBps,
		&cfg.MaxLeverage,
		&notionalCap,
		&cfg.PairFilters.Allowed,
		&cfg.PairFilters.Blocked,
		&cfg.Enabled,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cfg.SizingMode = domain.SizingMode(sizingMode)
	cfg.NotionalCap = decimalPtr(notionalCap)
	return &cfg, nil
}

var _ storage.CopyConfigStore = (*CopyConfigStore)(nil)
