package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"copytrade-engine/internal/storage"
)

func TestFillStore_AppendAndList(t *testing.T) {
	store := NewFillStore()
	ctx := context.Background()
	base := time.Unix(1000, 0)

	second := tradeEvent("f2", "user1", base.Add(time.Minute), 2)
	first := tradeEvent("f1", "user1", base, 1)

	if err := store.Append(ctx, "ct1", second); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "ct1", first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "ct1", first); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	fills, err := store.ListByCopytrader(ctx, "ct1")
	if err != nil {
		t.Fatalf("ListByCopytrader failed: %v", err)
	}
	if len(fills) != 2 || fills[0].EventID != "f1" || fills[1].EventID != "f2" {
		t.Errorf("Unexpected fills: %+v", fills)
	}

	other, _ := store.ListByCopytrader(ctx, "ct2")
	if len(other) != 0 {
		t.Errorf("Expected no fills for ct2, got %d", len(other))
	}
}
