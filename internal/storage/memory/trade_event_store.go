package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// TradeEventStore is an in-memory implementation of storage.TradeEventStore.
type TradeEventStore struct {
	mu       sync.RWMutex
	byLeader map[string][]*domain.TradeEvent
	ids      map[string]struct{}
}

// NewTradeEventStore creates a new in-memory trade event store.
func NewTradeEventStore() *TradeEventStore {
	return &TradeEventStore{
		byLeader: make(map[string][]*domain.TradeEvent),
		ids:      make(map[string]struct{}),
	}
}

// Append inserts events, skipping known event ids.
func (s *TradeEventStore) Append(_ context.Context, events []*domain.TradeEvent) (int, error) {
	for _, e := range events {
		if e == nil || e.EventID == "" || e.LeaderAddress == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, e := range events {
		if _, exists := s.ids[e.EventID]; exists {
			continue
		}
		cp := *e
		s.byLeader[e.LeaderAddress] = append(s.byLeader[e.LeaderAddress], &cp)
		s.ids[e.EventID] = struct{}{}
		inserted++
	}
	return inserted, nil
}

// GetByLeader retrieves a leader's events within [start, end], in ledger order.
func (s *TradeEventStore) GetByLeader(_ context.Context, leaderAddress string, start, end time.Time) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeEvent
	for _, e := range s.byLeader[leaderAddress] {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return domain.CompareTradeEvents(result[i], result[j]) < 0
	})
	return result, nil
}

// ListLeaders returns addresses with at least one event at or after since.
func (s *TradeEventStore) ListLeaders(_ context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []string
	for leader, events := range s.byLeader {
		for _, e := range events {
			if !e.Timestamp.Before(since) {
				result = append(result, leader)
				break
			}
		}
	}
	sort.Strings(result)
	return result, nil
}

var _ storage.TradeEventStore = (*TradeEventStore)(nil)
