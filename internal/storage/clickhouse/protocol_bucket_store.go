package clickhouse

import (
	"context"
	"fmt"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

// ProtocolBucketStore implements storage.ProtocolBucketStore using ClickHouse.
type ProtocolBucketStore struct {
	conn *Conn
}

// NewProtocolBucketStore creates a new ProtocolBucketStore.
func NewProtocolBucketStore(conn *Conn) *ProtocolBucketStore {
	return &ProtocolBucketStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ProtocolBucketStore = (*ProtocolBucketStore)(nil)

// Upsert writes the full bucket row as a new ReplacingMergeTree version.
func (s *ProtocolBucketStore) Upsert(ctx context.Context, b *domain.ProtocolBucket) error {
	if b == nil || b.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO protocol_buckets (
			id, bucket_interval, bucket_date,
			total_supply_usd, total_borrow_usd, total_reserves_usd, utilization,
			event_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		b.ID, string(b.Interval), b.Date,
		b.TotalSupplyUsd, b.TotalBorrowUsd, b.TotalReservesUsd, b.Utilization,
		uint64(b.EventCount),
	)
	if err != nil {
		return fmt.Errorf("upsert protocol bucket: %w", err)
	}
	return nil
}

// Get retrieves a bucket by id. Returns ErrNotFound if not exists.
func (s *ProtocolBucketStore) Get(ctx context.Context, bucketID string) (*domain.ProtocolBucket, error) {
	query := `
		SELECT id, bucket_interval, bucket_date,
			total_supply_usd, total_borrow_usd, total_reserves_usd, utilization,
			event_count
		FROM protocol_buckets FINAL
		WHERE id = ?
	`

	var b domain.ProtocolBucket
	var interval string
	var eventCount uint64

	err := s.conn.QueryRow(ctx, query, bucketID).Scan(
		&b.ID, &interval, &b.Date,
		&b.TotalSupplyUsd, &b.TotalBorrowUsd, &b.TotalReservesUsd, &b.Utilization,
		&eventCount,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get protocol bucket by id: %w", err)
	}

	b.Interval = domain.BucketInterval(interval)
	b.EventCount = int64(eventCount)
	return &b, nil
}
