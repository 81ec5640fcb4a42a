package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// TraderStatsStore implements storage.TraderStatsStore using ClickHouse.
// Rows are versioned by computed_at; reads use FINAL to see the latest.
type TraderStatsStore struct {
	conn *Conn
}

// NewTraderStatsStore creates a new TraderStatsStore.
func NewTraderStatsStore(conn *Conn) *TraderStatsStore {
	return &TraderStatsStore{conn: conn}
}

var _ storage.TraderStatsStore = (*TraderStatsStore)(nil)

const statsColumns = `address, volume_usd, median_trade_size_usd, trade_count, closed_trades,
	realized_pnl_usd, last_trade_at, unique_symbols, win_rate, maker_ratio, computed_at`

// Upsert stores the latest stats for an address.
func (s *TraderStatsStore) Upsert(ctx context.Context, st *domain.TraderStats) error {
	if st == nil || st.Address == "" {
		return storage.ErrInvalidInput
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO trader_stats (`+statsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		st.Address,
		st.VolumeUsd,
		st.MedianTradeSizeUsd,
		uint32(st.TradeCount),
		uint32(st.ClosedTrades),
		st.RealizedPnlUsd,
		st.LastTradeAt.UTC(),
		uint32(st.UniqueSymbols),
		st.WinRate,
		st.MakerRatio,
		st.ComputedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert trader stats: %w", err)
	}
	return nil
}

// Get retrieves stats. Returns ErrNotFound if not exists.
func (s *TraderStatsStore) Get(ctx context.Context, address string) (*domain.TraderStats, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+statsColumns+`
		FROM trader_stats FINAL
		WHERE address = ?
		LIMIT 1
	`, address)
	if err != nil {
		return nil, fmt.Errorf("query trader stats: %w", err)
	}
	defer rows.Close()

	stats, err := scanStats(rows)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, storage.ErrNotFound
	}
	return stats[0], nil
}

// GetAll retrieves the latest stats of every address, ordered by address.
func (s *TraderStatsStore) GetAll(ctx context.Context) ([]*domain.TraderStats, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+statsColumns+`
		FROM trader_stats FINAL
		ORDER BY address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query trader stats: %w", err)
	}
	defer rows.Close()

	return scanStats(rows)
}

func scanStats(rows driver.Rows) ([]*domain.TraderStats, error) {
	var result []*domain.TraderStats
	for rows.Next() {
		var (
			st                                domain.TraderStats
			tradeCount, closed, uniqueSymbols uint32
		)
		if err := rows.Scan(
			&st.Address,
			&st.VolumeUsd,
			&st.MedianTradeSizeUsd,
			&tradeCount,
			&closed,
			&st.RealizedPnlUsd,
			&st.LastTradeAt,
			&uniqueSymbols,
			&st.WinRate,
			&st.MakerRatio,
			&st.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trader stats: %w", err)
		}
		st.TradeCount = int(tradeCount)
		st.ClosedTrades = int(closed)
		st.UniqueSymbols = int(uniqueSymbols)
		result = append(result, &st)
	}
	return result, rows.Err()
}
