package clickhouse

import (
	"context"
	"fmt"
	"time"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// TradeEventStore implements storage.TradeEventStore using ClickHouse.
// The table is a ReplacingMergeTree keyed on event_id, and Append also
// checks for existing ids so readers never see a duplicate before a merge.
type TradeEventStore struct {
	conn *Conn
}

// NewTradeEventStore creates a new TradeEventStore.
func NewTradeEventStore(conn *Conn) *TradeEventStore {
	return &TradeEventStore{conn: conn}
}

var _ storage.TradeEventStore = (*TradeEventStore)(nil)

// Append inserts events, skipping those whose event_id already exists.
func (s *TradeEventStore) Append(ctx context.Context, events []*domain.TradeEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	seen := make(map[string]struct{}, len(events))
	fresh := make([]*domain.TradeEvent, 0, len(events))
	for _, e := range events {
		if e == nil || e.EventID == "" || e.LeaderAddress == "" {
			return 0, storage.ErrInvalidInput
		}
		if _, dup := seen[e.EventID]; dup {
			continue
		}
		seen[e.EventID] = struct{}{}

		exists, err := s.exists(ctx, e.LeaderAddress, e.EventID)
		if err != nil {
			return 0, fmt.Errorf("check exists: %w", err)
		}
		if !exists {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_events (
			event_id, leader_address, pair, is_long, size, price, leverage,
			event_type, block_number, tx_hash, timestamp, fee
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range fresh {
		err = batch.Append(
			e.EventID, e.LeaderAddress, e.Pair, boolToUInt8(e.IsLong),
			e.Size, e.Price, e.Leverage,
			string(e.EventType), e.BlockNumber, e.TxHash, e.Timestamp.UTC(), e.Fee,
		)
		if err != nil {
			return 0, fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send batch: %w", err)
	}
	return len(fresh), nil
}

// GetByLeader retrieves a leader's events within [start, end], in ledger order.
func (s *TradeEventStore) GetByLeader(ctx context.Context, leaderAddress string, start, end time.Time) ([]*domain.TradeEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT
			event_id, leader_address, pair, is_long, size, price, leverage,
			event_type, block_number, tx_hash, timestamp, fee
		FROM trade_events FINAL
		WHERE leader_address = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, block_number ASC, tx_hash ASC
	`, leaderAddress, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query trade events: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeEvent
	for rows.Next() {
		var (
			e         domain.TradeEvent
			isLong    uint8
			eventType string
		)
		if err := rows.Scan(
			&e.EventID, &e.LeaderAddress, &e.Pair, &isLong, &e.Size, &e.Price, &e.Leverage,
			&eventType, &e.BlockNumber, &e.TxHash, &e.Timestamp, &e.Fee,
		); err != nil {
			return nil, fmt.Errorf("scan trade event: %w", err)
		}
		e.IsLong = isLong == 1
		e.EventType = domain.EventType(eventType)
		result = append(result, &e)
	}
	return result, rows.Err()
}

// ListLeaders returns addresses with at least one event at or after since.
func (s *TradeEventStore) ListLeaders(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT leader_address
		FROM trade_events
		WHERE timestamp >= ?
		ORDER BY leader_address ASC
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query leaders: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan leader: %w", err)
		}
		result = append(result, addr)
	}
	return result, rows.Err()
}

func (s *TradeEventStore) exists(ctx context.Context, leaderAddress, eventID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM trade_events
		WHERE leader_address = ? AND event_id = ?
	`, leaderAddress, eventID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
