package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrade-engine/internal/storage"
)

func TestCheckpointStore_Monotonic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCheckpointStore(pool)

	_, err := store.Get(ctx, "ct-1", "0xleader")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	t1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Advance(ctx, "ct-1", "0xleader", t1))
	require.NoError(t, store.Advance(ctx, "ct-1", "0xleader", t1.Add(-time.Hour)))

	got, err := store.Get(ctx, "ct-1", "0xleader")
	require.NoError(t, err)
	assert.True(t, got.Equal(t1), "checkpoint moved backward to %v", got)

	require.NoError(t, store.Advance(ctx, "ct-1", "0xleader", t1.Add(time.Minute)))
	got, err = store.Get(ctx, "ct-1", "0xleader")
	require.NoError(t, err)
	assert.True(t, got.Equal(t1.Add(time.Minute)))
}
