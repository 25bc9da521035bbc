package storage

import (
	"context"

	"lending-index/internal/domain"
)

// ProtocolStore persists the singleton protocol rollup.
type ProtocolStore interface {
	// Get retrieves the protocol row. Returns ErrNotFound if not exists.
	Get(ctx context.Context) (*domain.Protocol, error)

	// Upsert writes the full protocol row.
	Upsert(ctx context.Context, p *domain.Protocol) error
}

// MarketStore persists market aggregate snapshots.
type MarketStore interface {
	// Get retrieves a market by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, marketID string) (*domain.Market, error)

	// Upsert writes the full market row.
	Upsert(ctx context.Context, m *domain.Market) error
}

// UserStore persists user aggregates.
type UserStore interface {
	// Get retrieves a user by wallet address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, userID string) (*domain.User, error)

	// Upsert writes the full user row.
	Upsert(ctx context.Context, u *domain.User) error
}

// UserMarketStore persists per-user-per-market positions.
type UserMarketStore interface {
	// Get retrieves a position by composite id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, userMarketID string) (*domain.UserMarket, error)

	// Upsert writes the full position row.
	Upsert(ctx context.Context, um *domain.UserMarket) error
}

// EventLogStore persists immutable event-log records.
type EventLogStore interface {
	// Insert appends a record. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, r *domain.EventRecord) error

	// GetByID retrieves a record by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.EventRecord, error)

	// GetByUserMarket retrieves records referencing the position, ordered by
	// (block number, id) ASC.
	GetByUserMarket(ctx context.Context, userMarketID string) ([]*domain.EventRecord, error)
}

// MarketBucketStore persists market time-bucket aggregates. Writes are
// last-write-wins per bucket id.
type MarketBucketStore interface {
	// Get retrieves a bucket by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, bucketID string) (*domain.MarketBucket, error)

	// Upsert writes the full bucket row.
	Upsert(ctx context.Context, b *domain.MarketBucket) error
}

// ProtocolBucketStore persists protocol time-bucket aggregates.
type ProtocolBucketStore interface {
	// Get retrieves a bucket by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, bucketID string) (*domain.ProtocolBucket, error)

	// Upsert writes the full bucket row.
	Upsert(ctx context.Context, b *domain.ProtocolBucket) error
}
