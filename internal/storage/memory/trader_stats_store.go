package memory

import (
	"context"
	"sort"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// TraderStatsStore is an in-memory implementation of storage.TraderStatsStore.
type TraderStatsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TraderStats
}

// NewTraderStatsStore creates a new in-memory stats store.
func NewTraderStatsStore() *TraderStatsStore {
	return &TraderStatsStore{
		data: make(map[string]*domain.TraderStats),
	}
}

// Upsert stores the latest stats for an address.
func (s *TraderStatsStore) Upsert(_ context.Context, st *domain.TraderStats) error {
	if st == nil || st.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[st.Address] = cloneStats(st)
	return nil
}

// Get retrieves stats. Returns ErrNotFound if not exists.
func (s *TraderStatsStore) Get(_ context.Context, address string) (*domain.TraderStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneStats(st), nil
}

// GetAll retrieves stats of every address, ordered by address.
func (s *TraderStatsStore) GetAll(_ context.Context) ([]*domain.TraderStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TraderStats, 0, len(s.data))
	for _, st := range s.data {
		result = append(result, cloneStats(st))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})
	return result, nil
}

func cloneStats(st *domain.TraderStats) *domain.TraderStats {
	cp := *st
	if st.MakerRatio != nil {
		v := *st.MakerRatio
		cp.MakerRatio = &v
	}
	return &cp
}

var _ storage.TraderStatsStore = (*TraderStatsStore)(nil)
