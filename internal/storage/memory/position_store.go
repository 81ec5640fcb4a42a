package memory

import (
	"context"
	"sort"
	"sync"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// CopyPositionStore is an in-memory implementation of storage.CopyPositionStore.
type CopyPositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CopyPosition // keyed by request_id
}

// NewCopyPositionStore creates a new in-memory position store.
func NewCopyPositionStore() *CopyPositionStore {
	return &CopyPositionStore{
		data: make(map[string]*domain.CopyPosition),
	}
}

// CreatePending inserts a PENDING position. Returns ErrDuplicateKey if request_id exists.
func (s *CopyPositionStore) CreatePending(_ context.Context, p *domain.CopyPosition) error {
	if p == nil || p.RequestID == "" || p.ID == "" {
		return storage.ErrInvalidInput
	}
	if p.Status != domain.PositionStatusPending {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.RequestID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.RequestID] = p.Clone()
	return nil
}

// GetByRequestID retrieves a position. Returns ErrNotFound if not exists.
func (s *CopyPositionStore) GetByRequestID(_ context.Context, requestID string) (*domain.CopyPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[requestID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// Update replaces the stored position when the status move is legal.
func (s *CopyPositionStore) Update(_ context.Context, p *domain.CopyPosition) error {
	if p == nil || !p.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[p.RequestID]
	if !ok {
		return storage.ErrNotFound
	}
	if existing.Status != p.Status && !existing.Status.CanTransition(p.Status) {
		return storage.ErrConflict
	}
	if existing.Status.IsTerminal() && existing.Status == p.Status {
		return storage.ErrConflict
	}

	s.data[p.RequestID] = p.Clone()
	return nil
}

// ListOpen retrieves every OPEN position, ordered by opened_at ASC.
func (s *CopyPositionStore) ListOpen(_ context.Context) ([]*domain.CopyPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CopyPosition
	for _, p := range s.data {
		if p.Status == domain.PositionStatusOpen {
			result = append(result, p.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result, nil
}

// ListByUser retrieves a follower's positions, newest first.
func (s *CopyPositionStore) ListByUser(_ context.Context, userID string, limit int) ([]*domain.CopyPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CopyPosition
	for _, p := range s.data {
		if p.UserID == userID {
			result = append(result, p.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OpenedAt.Equal(result[j].OpenedAt) {
			return result[i].RequestID > result[j].RequestID
		}
		return result[i].OpenedAt.After(result[j].OpenedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.CopyPositionStore = (*CopyPositionStore)(nil)
