package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

func TestTraderStatsStore_LatestWins(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTraderStatsStore(conn)
	computed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &domain.TraderStats{
		Address:            "0xa",
		VolumeUsd:          decimal.NewFromInt(12_000_000),
		MedianTradeSizeUsd: decimal.NewFromInt(4000),
		TradeCount:         350,
		ClosedTrades:       170,
		RealizedPnlUsd:     decimal.NewFromInt(25_000),
		LastTradeAt:        computed.Add(-time.Hour),
		UniqueSymbols:      5,
		WinRate:            0.6,
		MakerRatio:         ptr(0.4),
		ComputedAt:         computed,
	}
	require.NoError(t, store.Upsert(ctx, first))

	second := *first
	second.TradeCount = 360
	second.MakerRatio = nil
	second.ComputedAt = computed.Add(10 * time.Minute)
	require.NoError(t, store.Upsert(ctx, &second))

	got, err := store.Get(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, 360, got.TradeCount)
	assert.Nil(t, got.MakerRatio)
	assert.True(t, got.VolumeUsd.Equal(decimal.NewFromInt(12_000_000)))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.Get(ctx, "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
