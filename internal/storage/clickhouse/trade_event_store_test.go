package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrade-engine/internal/domain"
)

func createTestEvent(id, leader string, ts time.Time, block uint64) *domain.TradeEvent {
	return &domain.TradeEvent{
		EventID:       id,
		LeaderAddress: leader,
		Pair:          "BTC/USD",
		IsLong:        true,
		Size:          decimal.RequireFromString("0.5"),
		Price:         decimal.NewFromInt(50000),
		Leverage:      decimal.NewFromInt(10),
		EventType:     domain.EventTypeOpened,
		BlockNumber:   block,
		TxHash:        "0x" + id,
		Timestamp:     ts,
		Fee:           decimal.RequireFromString("0.25"),
	}
}

func TestTradeEventStore_AppendAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeEventStore(conn)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := store.Append(ctx, []*domain.TradeEvent{
		createTestEvent("e2", "0xa", base, 2),
		createTestEvent("e1", "0xa", base, 1),
		createTestEvent("e3", "0xb", base.Add(time.Hour), 3),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.Append(ctx, []*domain.TradeEvent{createTestEvent("e1", "0xa", base, 1)})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "existing event ids are skipped")

	events, err := store.GetByLeader(ctx, "0xa", base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].EventID)
	assert.Equal(t, "e2", events[1].EventID)
	assert.True(t, events[0].IsLong)
	assert.True(t, events[0].Fee.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, domain.EventTypeOpened, events[0].EventType)

	leaders, err := store.ListLeaders(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"0xb"}, leaders)
}
