package memory

import (
	"context"
	"sort"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// CopyConfigStore is an in-memory implementation of storage.CopyConfigStore.
type CopyConfigStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CopyConfiguration // keyed by copytrader_id
}

// NewCopyConfigStore creates a new in-memory configuration store.
func NewCopyConfigStore() *CopyConfigStore {
	return &CopyConfigStore{
		data: make(map[string]*domain.CopyConfiguration),
	}
}

// Upsert creates or replaces a configuration, keeping the original CreatedAt.
func (s *CopyConfigStore) Upsert(_ context.Context, cfg *domain.CopyConfiguration) error {
	if cfg == nil || cfg.CopytraderID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cfg.Clone()
	if existing, ok := s.data[cfg.CopytraderID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	s.data[cfg.CopytraderID] = stored
	return nil
}

// Get retrieves a configuration. Returns ErrNotFound if not exists.
func (s *CopyConfigStore) Get(_ context.Context, copytraderID string) (*domain.CopyConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.data[copytraderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cfg.Clone(), nil
}

// ListByUser retrieves a follower's configurations, ordered by created_at ASC.
func (s *CopyConfigStore) ListByUser(_ context.Context, userID string) ([]*domain.CopyConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CopyConfiguration
	for _, cfg := range s.data {
		if cfg.UserID == userID {
			result = append(result, cfg.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CopytraderID < result[j].CopytraderID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

var _ storage.CopyConfigStore = (*CopyConfigStore)(nil)
