package postgres

import (
	"context"
	"fmt"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// FillStore is a PostgreSQL implementation of storage.FillStore.
type FillStore struct {
	pool *Pool
}

// NewFillStore creates a new PostgreSQL fill store.
func NewFillStore(pool *Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Append inserts a fill. Returns ErrDuplicateKey if event_id exists.
func (s *FillStore) Append(ctx context.Context, copytraderID string, e *domain.TradeEvent) error {
	if e == nil || e.EventID == "" || copytraderID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO follower_fills (
			event_id, copytrader_id, trader_address, pair, is_long, size, price,
			leverage, event_type, block_number, tx_hash, ts, fee
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		e.EventID,
		copytraderID,
		e.LeaderAddress,
		e.Pair,
		e.IsLong,
		e.Size,
		e.Price,
		e.Leverage,
		string(e.EventType),
		int64(e.BlockNumber),
		e.TxHash,
		e.Timestamp,
		e.Fee,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// ListByCopytrader retrieves fills ordered by (ts, block_number, tx_hash).
func (s *FillStore) ListByCopytrader(ctx context.Context, copytraderID string) ([]*domain.TradeEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, trader_address, pair, is_long, size, price, leverage,
		       event_type, block_number, tx_hash, ts, fee
		FROM follower_fills
		WHERE copytrader_id = $1
		ORDER BY ts ASC, block_number ASC, tx_hash ASC
	`, copytraderID)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeEvent
	for rows.Next() {
		var (
			e         domain.TradeEvent
			eventType string
			block     int64
		)
		if err := rows.Scan(
			&e.EventID, &e.LeaderAddress, &e.Pair, &e.IsLong, &e.Size, &e.Price, &e.Leverage,
			&eventType, &block, &e.TxHash, &e.Timestamp, &e.Fee,
		); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		e.EventType = domain.EventType(eventType)
		e.BlockNumber = uint64(block)
		result = append(result, &e)
	}
	return result, rows.Err()
}

var _ storage.FillStore = (*FillStore)(nil)
