// Package memory provides in-memory implementations of the storage
// interfaces, used by tests and the --use-memory mode.
package memory

import (
	"context"
	"sync"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

// ProtocolStore is an in-memory implementation of storage.ProtocolStore.
type ProtocolStore struct {
	mu       sync.RWMutex
	protocol *domain.Protocol
}

// NewProtocolStore creates a new in-memory protocol store.
func NewProtocolStore() *ProtocolStore {
	return &ProtocolStore{}
}

// Get retrieves the protocol row. Returns ErrNotFound if not exists.
func (s *ProtocolStore) Get(_ context.Context) (*domain.Protocol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.protocol == nil {
		return nil, storage.ErrNotFound
	}
	return copyProtocol(s.protocol), nil
}

// Upsert writes the full protocol row.
func (s *ProtocolStore) Upsert(_ context.Context, p *domain.Protocol) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.protocol = copyProtocol(p)
	return nil
}

func copyProtocol(p *domain.Protocol) *domain.Protocol {
	cp := *p
	cp.Markets = append([]string(nil), p.Markets...)
	return &cp
}

// MarketStore is an in-memory implementation of storage.MarketStore.
type MarketStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Market
}

// NewMarketStore creates a new in-memory market store.
func NewMarketStore() *MarketStore {
	return &MarketStore{data: make(map[string]*domain.Market)}
}

// Get retrieves a market by id. Returns ErrNotFound if not exists.
func (s *MarketStore) Get(_ context.Context, marketID string) (*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[marketID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	marketCopy := *m
	return &marketCopy, nil
}

// Upsert writes the full market row.
func (s *MarketStore) Upsert(_ context.Context, m *domain.Market) error {
	if m == nil || m.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	marketCopy := *m
	s.data[m.ID] = &marketCopy
	return nil
}

// UserStore is an in-memory implementation of storage.UserStore.
type UserStore struct {
	mu   sync.RWMutex
	data map[string]*domain.User
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{data: make(map[string]*domain.User)}
}

// Get retrieves a user by wallet address. Returns ErrNotFound if not exists.
func (s *UserStore) Get(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.data[userID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyUser(u), nil
}

// Upsert writes the full user row.
func (s *UserStore) Upsert(_ context.Context, u *domain.User) error {
	if u == nil || u.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[u.ID] = copyUser(u)
	return nil
}

func copyUser(u *domain.User) *domain.User {
	cp := *u
	cp.UserMarkets = append([]string(nil), u.UserMarkets...)
	return &cp
}

// UserMarketStore is an in-memory implementation of storage.UserMarketStore.
type UserMarketStore struct {
	mu   sync.RWMutex
	data map[string]*domain.UserMarket
}

// NewUserMarketStore creates a new in-memory user-market store.
func NewUserMarketStore() *UserMarketStore {
	return &UserMarketStore{data: make(map[string]*domain.UserMarket)}
}

// Get retrieves a position by composite id. Returns ErrNotFound if not exists.
func (s *UserMarketStore) Get(_ context.Context, userMarketID string) (*domain.UserMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	um, exists := s.data[userMarketID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	umCopy := *um
	return &umCopy, nil
}

// Upsert writes the full position row.
func (s *UserMarketStore) Upsert(_ context.Context, um *domain.UserMarket) error {
	if um == nil || um.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	umCopy := *um
	s.data[um.ID] = &umCopy
	return nil
}

// Compile-time interface checks.
var (
	_ storage.ProtocolStore   = (*ProtocolStore)(nil)
	_ storage.MarketStore     = (*MarketStore)(nil)
	_ storage.UserStore       = (*UserStore)(nil)
	_ storage.UserMarketStore = (*UserMarketStore)(nil)
)
