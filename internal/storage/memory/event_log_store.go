package memory

import (
	"context"
	"sort"
	"sync"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

// EventLogStore is an in-memory implementation of storage.EventLogStore.
type EventLogStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EventRecord
}

// NewEventLogStore creates a new in-memory event-log store.
func NewEventLogStore() *EventLogStore {
	return &EventLogStore{data: make(map[string]*domain.EventRecord)}
}

// Insert appends a record. Returns ErrDuplicateKey if the id exists.
func (s *EventLogStore) Insert(_ context.Context, r *domain.EventRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}

	recordCopy := *r
	s.data[r.ID] = &recordCopy
	return nil
}

// GetByID retrieves a record by id. Returns ErrNotFound if not exists.
func (s *EventLogStore) GetByID(_ context.Context, id string) (*domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	recordCopy := *r
	return &recordCopy, nil
}

// GetByUserMarket retrieves records referencing the position, ordered by
// (block number, id) ASC.
func (s *EventLogStore) GetByUserMarket(_ context.Context, userMarketID string) ([]*domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EventRecord
	for _, r := range s.data {
		if r.UserMarketID == userMarketID ||
			r.ToUserMarketID == userMarketID ||
			r.SeizeUserMarketID == userMarketID ||
			r.LiquidatorUserMarketID == userMarketID {
			recordCopy := *r
			result = append(result, &recordCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].BlockNumber != result[j].BlockNumber {
			return result[i].BlockNumber < result[j].BlockNumber
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Compile-time interface check.
var _ storage.EventLogStore = (*EventLogStore)(nil)
