package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

func TestCopyConfigStore_UpsertKeepsCreatedAt(t *testing.T) {
	store := NewCopyConfigStore()
	ctx := context.Background()
	created := time.Unix(1000, 0).UTC()

	cfg := &domain.CopyConfiguration{
		CopytraderID:   "ct1",
		UserID:         "user1",
		SizingMode:     domain.SizingModeFixedNotional,
		SizingValue:    decimal.NewFromInt(100),
		MaxSlippageBps: 100,
		MaxLeverage:    decimal.NewFromInt(10),
		PairFilters:    domain.PairFilters{Allowed: []string{"BTC/USD"}},
		Enabled:        true,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	if err := store.Upsert(ctx, cfg); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	updated := cfg.Clone()
	updated.SizingValue = decimal.NewFromInt(250)
	updated.CreatedAt = created.Add(time.Hour)
	updated.UpdatedAt = created.Add(time.Hour)
	if err := store.Upsert(ctx, updated); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	got, err := store.Get(ctx, "ct1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.SizingValue.Equal(decimal.NewFromInt(250)) {
		t.Errorf("SizingValue = %s, want 250", got.SizingValue)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed: %v", got.CreatedAt)
	}

	got.PairFilters.Allowed[0] = "ETH/USD"
	again, _ := store.Get(ctx, "ct1")
	if again.PairFilters.Allowed[0] != "BTC/USD" {
		t.Error("store mutated through returned configuration")
	}

	list, _ := store.ListByUser(ctx, "user1")
	if len(list) != 1 {
		t.Errorf("Expected 1 config, got %d", len(list))
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
