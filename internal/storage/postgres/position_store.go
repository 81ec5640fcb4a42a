package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// CopyPositionStore is a PostgreSQL implementation of storage.CopyPositionStore.
// request_id carries a UNIQUE constraint; it is the idempotency key of the
// execution worker.
type CopyPositionStore struct {
	pool *Pool
}

// NewCopyPositionStore creates a new PostgreSQL position store.
func NewCopyPositionStore(pool *Pool) *CopyPositionStore {
	return &CopyPositionStore{pool: pool}
}

const positionColumns = `id, request_id, copytrader_id, user_id, leader_address, pair, is_long,
	status, order_type, target_size, leverage, tx_hash, executed_price, executed_size,
	pnl_usd, failure_reason, attempts, opened_at, closed_at`

// CreatePending inserts a PENDING position. Returns ErrDuplicateKey if request_id exists.
func (s *CopyPositionStore) CreatePending(ctx context.Context, p *domain.CopyPosition) error {
	if p == nil || p.RequestID == "" || p.ID == "" || p.Status != domain.PositionStatusPending {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO copy_positions (`+positionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, positionArgs(p)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert copy position: %w", err)
	}
	return nil
}

// GetByRequestID retrieves a position. Returns ErrNotFound if not exists.
func (s *CopyPositionStore) GetByRequestID(ctx context.Context, requestID string) (*domain.CopyPosition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+positionColumns+`
		FROM copy_positions
		WHERE request_id = $1
	`, requestID)

	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get copy position: %w", err)
	}
	return p, nil
}

// Update writes the mutable fields after checking the status move under a row lock.
func (s *CopyPositionStore) Update(ctx context.Context, p *domain.CopyPosition) error {
	if p == nil || !p.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `
		SELECT status FROM copy_positions WHERE request_id = $1 FOR UPDATE
	`, p.RequestID).Scan(&current)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("lock copy position: %w", err)
	}

	from := domain.PositionStatus(current)
	if from != p.Status && !from.CanTransition(p.Status) {
		return storage.ErrConflict
	}
	if from.IsTerminal() && from == p.Status {
		return storage.ErrConflict
	}

	_, err = tx.Exec(ctx, `
		UPDATE copy_positions
		SET status = $2,
		    order_type = $3,
		    leverage = $4,
		    tx_hash = $5,
		    executed_price = $6,
		    executed_size = $7,
		    pnl_usd = $8,
		    failure_reason = $9,
		    attempts = $10,
		    closed_at = $11,
		    updated_at = NOW()
		WHERE request_id = $1
	`,
		p.RequestID,
		string(p.Status),
		string(p.OrderType),
		p.Leverage,
		p.TxHash,
		nullDecimal(p.ExecutedPrice),
		nullDecimal(p.ExecutedSize),
		nullDecimal(p.PnlUsd),
		p.FailureReason,
		p.Attempts,
		p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("update copy position: %w", err)
	}

	return tx.Commit(ctx)
}

// ListOpen retrieves every OPEN position, ordered by opened_at ASC.
func (s *CopyPositionStore) ListOpen(ctx context.Context) ([]*domain.CopyPosition, error) {
	return s.list(ctx, `
		SELECT `+positionColumns+`
		FROM copy_positions
		WHERE status = $1
		ORDER BY opened_at ASC
	`, string(domain.PositionStatusOpen))
}

// ListByUser retrieves a follower's positions, newest first.
func (s *CopyPositionStore) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.CopyPosition, error) {
	if limit <= 0 {
		return s.list(ctx, `
			SELECT `+positionColumns+`
			FROM copy_positions
			WHERE user_id = $1
			ORDER BY opened_at DESC, request_id DESC
		`, userID)
	}
	return s.list(ctx, `
		SELECT `+positionColumns+`
		FROM copy_positions
		WHERE user_id = $1
		ORDER BY opened_at DESC, request_id DESC
		LIMIT $2
	`, userID, limit)
}

func (s *CopyPositionStore) list(ctx context.Context, query string, args ...any) ([]*domain.CopyPosition, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list copy positions: %w", err)
	}
	defer rows.Close()

	var result []*domain.CopyPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan copy position: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func positionArgs(p *domain.CopyPosition) []any {
	return []any{
		p.ID,
		p.RequestID,
		p.CopytraderID,
		p.UserID,
		p.LeaderAddress,
		p.Pair,
		p.IsLong,
		string(p.Status),
		string(p.OrderType),
		p.TargetSize,
		p.Leverage,
		p.TxHash,
		nullDecimal(p.ExecutedPrice),
		nullDecimal(p.ExecutedSize),
		nullDecimal(p.PnlUsd),
		p.FailureReason,
		p.Attempts,
		p.OpenedAt,
		p.ClosedAt,
	}
}

func scanPosition(row pgx.Row) (*domain.CopyPosition, error) {
	var (
		p                           domain.CopyPosition
		status, orderType           string
		execPrice, execSize, pnlUsd decimal.NullDecimal
	)
	err := row.Scan(
		&p.ID,
		&p.RequestID,
		&p.CopytraderID,
		&p.UserID,
		&p.LeaderAddress,
		&p.Pair,
		&p.IsLong,
		&status,
		&orderType,
		&p.TargetSize,
		&p.Leverage,
		&p.TxHash,
		&execPrice,
		&execSize,
		&pnlUsd,
		&p.FailureReason,
		&p.Attempts,
		&p.OpenedAt,
		&p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PositionStatus(status)
	p.OrderType = domain.OrderType(orderType)
	p.ExecutedPrice = decimalPtr(execPrice)
	p.ExecutedSize = decimalPtr(execSize)
	p.PnlUsd = decimalPtr(pnlUsd)
	return &p, nil
}

var _ storage.CopyPositionStore = (*CopyPositionStore)(nil)
