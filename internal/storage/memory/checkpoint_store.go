package memory

import (
	"context"
	"sync"
	"time"

	"copytrade-engine/internal/storage"
)

type checkpointKey struct {
	CopytraderID  string
	LeaderAddress string
}

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	data map[checkpointKey]time.Time
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data: make(map[checkpointKey]time.Time),
	}
}

// Get returns the checkpoint. Returns ErrNotFound if none was saved yet.
func (s *CheckpointStore) Get(_ context.Context, copytraderID, leaderAddress string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.data[checkpointKey{copytraderID, leaderAddress}]
	if !ok {
		return time.Time{}, storage.ErrNotFound
	}
	return ts, nil
}

// Advance moves the checkpoint forward; older timestamps are ignored.
func (s *CheckpointStore) Advance(_ context.Context, copytraderID, leaderAddress string, ts time.Time) error {
	if copytraderID == "" || leaderAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := checkpointKey{copytraderID, leaderAddress}
	if current, ok := s.data[key]; ok && !ts.After(current) {
		return nil
	}
	s.data[key] = ts
	return nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
