package memory

import (
	"context"
	"sync"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

// MarketBucketStore is an in-memory implementation of storage.MarketBucketStore.
type MarketBucketStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MarketBucket
}

// NewMarketBucketStore creates a new in-memory market bucket store.
func NewMarketBucketStore() *MarketBucketStore {
	return &MarketBucketStore{data: make(map[string]*domain.MarketBucket)}
}

// Get retrieves a bucket by id. Returns ErrNotFound if not exists.
func (s *MarketBucketStore) Get(_ context.Context, bucketID string) (*domain.MarketBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.data[bucketID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	bucketCopy := *b
	return &bucketCopy, nil
}

// Upsert writes the full bucket row.
func (s *MarketBucketStore) Upsert(_ context.Context, b *domain.MarketBucket) error {
	if b == nil || b.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucketCopy := *b
	s.data[b.ID] = &bucketCopy
	return nil
}

// ProtocolBucketStore is an in-memory implementation of storage.ProtocolBucketStore.
type ProtocolBucketStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ProtocolBucket
}

// NewProtocolBucketStore creates a new in-memory protocol bucket store.
func NewProtocolBucketStore() *ProtocolBucketStore {
	return &ProtocolBucketStore{data: make(map[string]*domain.ProtocolBucket)}
}

// Get retrieves a bucket by id. Returns ErrNotFound if not exists.
func (s *ProtocolBucketStore) Get(_ context.Context, bucketID string) (*domain.ProtocolBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.data[bucketID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	bucketCopy := *b
	return &bucketCopy, nil
}

// Upsert writes the full bucket row.
func (s *ProtocolBucketStore) Upsert(_ context.Context, b *domain.ProtocolBucket) error {
	if b == nil || b.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucketCopy := *b
	s.data[b.ID] = &bucketCopy
	return nil
}

// Compile-time interface checks.
var (
	_ storage.MarketBucketStore   = (*MarketBucketStore)(nil)
	_ storage.ProtocolBucketStore = (*ProtocolBucketStore)(nil)
)
