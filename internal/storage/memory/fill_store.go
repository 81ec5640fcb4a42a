package memory

import (
	"context"
	"sort"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// FillStore is an in-memory implementation of storage.FillStore.
type FillStore struct {
	mu    sync.RWMutex
	fills map[string][]*domain.TradeEvent // keyed by copytrader_id
	ids   map[string]struct{}
}

// NewFillStore creates a new in-memory fill store.
func NewFillStore() *FillStore {
	return &FillStore{
		fills: make(map[string][]*domain.TradeEvent),
		ids:   make(map[string]struct{}),
	}
}

// Append inserts a fill. Returns ErrDuplicateKey if event_id exists.
func (s *FillStore) Append(_ context.Context, copytraderID string, e *domain.TradeEvent) error {
	if e == nil || e.EventID == "" || copytraderID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *e
	s.fills[copytraderID] = append(s.fills[copytraderID], &cp)
	s.ids[e.EventID] = struct{}{}
	return nil
}

// ListByCopytrader retrieves fills in ledger order.
func (s *FillStore) ListByCopytrader(_ context.Context, copytraderID string) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.fills[copytraderID]
	result := make([]*domain.TradeEvent, 0, len(src))
	for _, e := range src {
		cp := *e
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return domain.CompareTradeEvents(result[i], result[j]) < 0
	})
	return result, nil
}

var _ storage.FillStore = (*FillStore)(nil)
