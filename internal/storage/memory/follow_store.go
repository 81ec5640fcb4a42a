package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// FollowStore is an in-memory implementation of storage.FollowStore.
type FollowStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LeaderFollow // keyed by copytrader_id
}

// NewFollowStore creates a new in-memory follow store.
func NewFollowStore() *FollowStore {
	return &FollowStore{
		data: make(map[string]*domain.LeaderFollow),
	}
}

// Upsert creates a follow or reactivates a stopped one.
func (s *FollowStore) Upsert(_ context.Context, f *domain.LeaderFollow) error {
	if f == nil || f.CopytraderID == "" || f.LeaderAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[f.CopytraderID]; ok && existing.Active {
		return nil
	}

	stored := *f
	stored.Active = true
	stored.StoppedAt = nil
	s.data[f.CopytraderID] = &stored
	return nil
}

// Deactivate soft-deletes an active follow.
func (s *FollowStore) Deactivate(_ context.Context, copytraderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.data[copytraderID]
	if !ok || !f.Active {
		return storage.ErrNotFound
	}

	stopped := at
	f.Active = false
	f.StoppedAt = &stopped
	return nil
}

// Get retrieves a follow. Returns ErrNotFound if not exists.
func (s *FollowStore) Get(_ context.Context, copytraderID string) (*domain.LeaderFollow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.data[copytraderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneFollow(f), nil
}

// ListActive retrieves all active follows, ordered by started_at ASC.
func (s *FollowStore) ListActive(_ context.Context) ([]*domain.LeaderFollow, error) {
	return s.list(func(f *domain.LeaderFollow) bool { return f.Active }), nil
}

// ListByUser retrieves active follows of a follower.
func (s *FollowStore) ListByUser(_ context.Context, userID string) ([]*domain.LeaderFollow, error) {
	return s.list(func(f *domain.LeaderFollow) bool { return f.Active && f.UserID == userID }), nil
}

func (s *FollowStore) list(keep func(*domain.LeaderFollow) bool) []*domain.LeaderFollow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LeaderFollow
	for _, f := range s.data {
		if keep(f) {
			result = append(result, cloneFollow(f))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].CopytraderID < result[j].CopytraderID
		}
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result
}

func cloneFollow(f *domain.LeaderFollow) *domain.LeaderFollow {
	cp := *f
	if f.StoppedAt != nil {
		t := *f.StoppedAt
		cp.StoppedAt = &t
	}
	return &cp
}

var _ storage.FollowStore = (*FollowStore)(nil)
