package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

func TestFollowStore_SoftDeleteAndReactivate(t *testing.T) {
	store := NewFollowStore()
	ctx := context.Background()
	started := time.Unix(1000, 0).UTC()

	f := &domain.LeaderFollow{
		CopytraderID:  "ct1",
		UserID:        "user1",
		LeaderAddress: "0xleader",
		Active:        true,
		StartedAt:     started,
	}
	if err := store.Upsert(ctx, f); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stop := started.Add(time.Hour)
	if err := store.Deactivate(ctx, "ct1", stop); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	got, err := store.Get(ctx, "ct1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Active || got.StoppedAt == nil || !got.StoppedAt.Equal(stop) {
		t.Errorf("Expected inactive follow stopped at %v, got %+v", stop, got)
	}

	active, _ := store.ListActive(ctx)
	if len(active) != 0 {
		t.Errorf("Expected no active follows, got %d", len(active))
	}

	if err := store.Deactivate(ctx, "ct1", stop); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Second Deactivate: expected ErrNotFound, got %v", err)
	}

	f.StartedAt = stop.Add(time.Hour)
	if err := store.Upsert(ctx, f); err != nil {
		t.Fatalf("reactivate failed: %v", err)
	}
	got, _ = store.Get(ctx, "ct1")
	if !got.Active || got.StoppedAt != nil {
		t.Errorf("Expected reactivated follow, got %+v", got)
	}

	byUser, _ := store.ListByUser(ctx, "user1")
	if len(byUser) != 1 {
		t.Errorf("Expected 1 follow for user1, got %d", len(byUser))
	}
}
