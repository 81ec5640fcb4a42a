package postgres

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

func createTestPosition(requestID string, openedAt time.Time) *domain.CopyPosition {
	return &domain.CopyPosition{
		ID:            "pos-" + requestID,
		CopytraderID:  "ct-1",
		UserID:        "user-1",
		LeaderAddress: "0xleader",
		RequestID:     requestID,
		Pair:          "BTC/USD",
		IsLong:        true,
		Status:        domain.PositionStatusPending,
		TargetSize:    decimal.RequireFromString("0.002"),
		Leverage:      decimal.NewFromInt(10),
		OpenedAt:      openedAt,
	}
}

func TestCopyPositionStore_CreatePendingIdempotency(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCopyPositionStore(pool)
	opened := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreatePending(ctx, createTestPosition("req-1", opened)))

	dup := createTestPosition("req-1", opened)
	dup.ID = "pos-other"
	assert.ErrorIs(t, store.CreatePending(ctx, dup), storage.ErrDuplicateKey)
}

func TestCopyPositionStore_UpdateAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCopyPositionStore(pool)
	opened := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	p := createTestPosition("req-1", opened)
	require.NoError(t, store.CreatePending(ctx, p))
	require.NoError(t, store.CreatePending(ctx, createTestPosition("req-2", opened.Add(time.Minute))))

	p.Status = domain.PositionStatusOpen
	p.OrderType = domain.OrderTypeLimit
	p.TxHash = ptr("0xfill")
	p.ExecutedPrice = ptr(decimal.NewFromInt(50000))
	p.ExecutedSize = ptr(decimal.RequireFromString("0.002"))
	p.Attempts = 1
	require.NoError(t, store.Update(ctx, p))

	got, err := store.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.Equal(t, domain.OrderTypeLimit, got.OrderType)
	require.NotNil(t, got.ExecutedPrice)
	assert.True(t, got.ExecutedPrice.Equal(decimal.NewFromInt(50000)))
	assert.Nil(t, got.PnlUsd)

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "req-1", open[0].RequestID)

	p.Status = domain.PositionStatusFailed
	assert.ErrorIs(t, store.Update(ctx, p), storage.ErrConflict)

	closed := opened.Add(time.Hour)
	p.Status = domain.PositionStatusClosed
	p.PnlUsd = ptr(decimal.RequireFromString("1.25"))
	p.ClosedAt = &closed
	require.NoError(t, store.Update(ctx, p))

	recent, err := store.ListByUser(ctx, "user-1", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "req-2", recent[0].RequestID)

	all, err := store.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	missing := createTestPosition("req-404", opened)
	assert.ErrorIs(t, store.Update(ctx, missing), storage.ErrNotFound)
}
