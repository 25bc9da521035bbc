package clickhouse

import (
	"context"
	"fmt"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

// MarketBucketStore implements storage.MarketBucketStore using ClickHouse.
type MarketBucketStore struct {
	conn *Conn
}

// NewMarketBucketStore creates a new MarketBucketStore.
func NewMarketBucketStore(conn *Conn) *MarketBucketStore {
	return &MarketBucketStore{conn: conn}
}

// Compile-time interface check.
var _ storage.MarketBucketStore = (*MarketBucketStore)(nil)

// Upsert writes the full bucket row. The table is a ReplacingMergeTree
// versioned by event_count, so each fold supersedes the previous row.
func (s *MarketBucketStore) Upsert(ctx context.Context, b *domain.MarketBucket) error {
	if b == nil || b.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO market_buckets (
			id, bucket_interval, market_id, bucket_date,
			supply_apy, borrow_apy, total_supply_apy, total_borrow_apy,
			total_supply, total_borrow, total_reserves, utilization,
			usdc_per_underlying, usdc_per_eth, usdc_per_incentive, event_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		b.ID, string(b.Interval), b.MarketID, b.Date,
		b.SupplyApy, b.BorrowApy, b.TotalSupplyApy, b.TotalBorrowApy,
		b.TotalSupply, b.TotalBorrow, b.TotalReserves, b.Utilization,
		b.UsdcPerUnderlying, b.UsdcPerEth, b.UsdcPerIncentive, uint64(b.EventCount),
	)
	if err != nil {
		return fmt.Errorf("upsert market bucket: %w", err)
	}
	return nil
}

// Get retrieves a bucket by id. Returns ErrNotFound if not exists.
func (s *MarketBucketStore) Get(ctx context.Context, bucketID string) (*domain.MarketBucket, error) {
	query := `
		SELECT id, bucket_interval, market_id, bucket_date,
			supply_apy, borrow_apy, total_supply_apy, total_borrow_apy,
			total_supply, total_borrow, total_reserves, utilization,
			usdc_per_underlying, usdc_per_eth, usdc_per_incentive, event_count
		FROM market_buckets FINAL
		WHERE id = ?
	`

	var b domain.MarketBucket
	var interval string
	var eventCount uint64

	err := s.conn.QueryRow(ctx, query, bucketID).Scan(
		&b.ID, &interval, &b.MarketID, &b.Date,
		&b.SupplyApy, &b.BorrowApy, &b.TotalSupplyApy, &b.TotalBorrowApy,
		&b.TotalSupply, &b.TotalBorrow, &b.TotalReserves, &b.Utilization,
		&b.UsdcPerUnderlying, &b.UsdcPerEth, &b.UsdcPerIncentive, &eventCount,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market bucket by id: %w", err)
	}

	b.Interval = domain.BucketInterval(interval)
	b.EventCount = int64(eventCount)
	return &b, nil
}

// GetByMarket retrieves all buckets of one interval for a market, ordered by
// bucket start ASC.
func (s *MarketBucketStore) GetByMarket(ctx context.Context, marketID string, interval domain.BucketInterval) ([]*domain.MarketBucket, error) {
	query := `
		SELECT id, bucket_interval, market_id, bucket_date,
			supply_apy, borrow_apy, total_supply_apy, total_borrow_apy,
			total_supply, total_borrow, total_reserves, utilization,
			usdc_per_underlying, usdc_per_eth, usdc_per_incentive, event_count
		FROM market_buckets FINAL
		WHERE market_id = ? AND bucket_interval = ?
		ORDER BY bucket_date ASC
	`

	rows, err := s.conn.Query(ctx, query, marketID, string(interval))
	if err != nil {
		return nil, fmt.Errorf("query market buckets: %w", err)
	}
	defer rows.Close()

	var buckets []*domain.MarketBucket
	for rows.Next() {
		var b domain.MarketBucket
		var intervalStr string
		var eventCount uint64

		err := rows.Scan(
			&b.ID, &intervalStr, &b.MarketID, &b.Date,
			&b.SupplyApy, &b.BorrowApy, &b.TotalSupplyApy, &b.TotalBorrowApy,
			&b.TotalSupply, &b.TotalBorrow, &b.TotalReserves, &b.Utilization,
			&b.UsdcPerUnderlying, &b.UsdcPerEth, &b.UsdcPerIncentive, &eventCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan market bucket row: %w", err)
		}

		b.Interval = domain.BucketInterval(intervalStr)
		b.EventCount = int64(eventCount)
		buckets = append(buckets, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market bucket rows: %w", err)
	}
	return buckets, nil
}
