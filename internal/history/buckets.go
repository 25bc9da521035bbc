// Package history folds live aggregate snapshots into fixed hour/day/week
// buckets as count-weighted running averages, so historical charts survive
// even though the live rows are overwritten in place.
package history

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"lending-index/internal/domain"
	"lending-index/internal/observability"
	"lending-index/internal/storage"
)

var one = decimal.NewFromInt(1)

// marketIntervals are the bucket widths recorded per market.
var marketIntervals = []domain.BucketInterval{
	domain.BucketHour,
	domain.BucketDay,
	domain.BucketWeek,
}

// Recorder folds market and protocol snapshots into their time buckets. It
// runs after the reconcilers, so the rows it reads already reflect the event
// being processed.
type Recorder struct {
	markets         storage.MarketStore
	protocols       storage.ProtocolStore
	marketBuckets   storage.MarketBucketStore
	protocolBuckets storage.ProtocolBucketStore
	logger          *log.Logger
}

// NewRecorder creates a bucket recorder.
func NewRecorder(markets storage.MarketStore, protocols storage.ProtocolStore, marketBuckets storage.MarketBucketStore, protocolBuckets storage.ProtocolBucketStore, logger *log.Logger) *Recorder {
	return &Recorder{
		markets:         markets,
		protocols:       protocols,
		marketBuckets:   marketBuckets,
		protocolBuckets: protocolBuckets,
		logger:          logger,
	}
}

// RecordMarket folds the market's current snapshot into its hour, day and
// week buckets.
func (r *Recorder) RecordMarket(ctx context.Context, marketID string, timestamp int64) error {
	market, err := r.markets.Get(ctx, marketID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Printf("WARN: market %s missing in RecordMarket", marketID)
			return nil
		}
		return fmt.Errorf("load market %s: %w", marketID, err)
	}

	for _, interval := range marketIntervals {
		if err := r.foldMarket(ctx, market, interval, timestamp); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) foldMarket(ctx context.Context, market *domain.Market, interval domain.BucketInterval, timestamp int64) error {
	bucketID := domain.MarketBucketID(interval, timestamp, market.CTokenSymbol)

	bucket, err := r.marketBuckets.Get(ctx, bucketID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load bucket %s: %w", bucketID, err)
		}
		bucket = domain.NewMarketBucket(interval, timestamp, market.ID, market.CTokenSymbol)
	}

	weightOld, weightNew := averageWeights(bucket.EventCount)

	bucket.SupplyApy = fold(bucket.SupplyApy, market.SupplyApy, weightOld, weightNew)
	bucket.BorrowApy = fold(bucket.BorrowApy, market.BorrowApy, weightOld, weightNew)
	bucket.TotalSupplyApy = fold(bucket.TotalSupplyApy, market.TotalSupplyApy, weightOld, weightNew)
	bucket.TotalBorrowApy = fold(bucket.TotalBorrowApy, market.TotalBorrowApy, weightOld, weightNew)
	bucket.TotalSupply = fold(bucket.TotalSupply, market.TotalSupply, weightOld, weightNew)
	bucket.TotalBorrow = fold(bucket.TotalBorrow, market.TotalBorrow, weightOld, weightNew)
	bucket.TotalReserves = fold(bucket.TotalReserves, market.TotalReserves, weightOld, weightNew)
	bucket.Utilization = fold(bucket.Utilization, market.Utilization, weightOld, weightNew)
	bucket.UsdcPerUnderlying = fold(bucket.UsdcPerUnderlying, market.UsdcPerUnderlying, weightOld, weightNew)
	bucket.UsdcPerEth = fold(bucket.UsdcPerEth, market.UsdcPerEth, weightOld, weightNew)
	bucket.UsdcPerIncentive = fold(bucket.UsdcPerIncentive, market.UsdcPerIncentive, weightOld, weightNew)
	bucket.EventCount++

	if err := r.marketBuckets.Upsert(ctx, bucket); err != nil {
		return fmt.Errorf("persist bucket %s: %w", bucketID, err)
	}
	observability.DefaultMetrics.BucketFolds.WithLabelValues(string(interval)).Inc()
	return nil
}

// RecordProtocol folds the protocol rollup into its weekly bucket.
func (r *Recorder) RecordProtocol(ctx context.Context, timestamp int64) error {
	protocol, err := r.protocols.Get(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Printf("WARN: protocol missing in RecordProtocol")
			return nil
		}
		return fmt.Errorf("load protocol: %w", err)
	}

	bucketID := domain.ProtocolBucketID(domain.BucketWeek, timestamp)

	bucket, err := r.protocolBuckets.Get(ctx, bucketID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load bucket %s: %w", bucketID, err)
		}
		bucket = domain.NewProtocolBucket(domain.BucketWeek, timestamp)
	}

	weightOld, weightNew := averageWeights(bucket.EventCount)

	bucket.TotalSupplyUsd = fold(bucket.TotalSupplyUsd, protocol.TotalSupplyUsd, weightOld, weightNew)
	bucket.TotalBorrowUsd = fold(bucket.TotalBorrowUsd, protocol.TotalBorrowUsd, weightOld, weightNew)
	bucket.TotalReservesUsd = fold(bucket.TotalReservesUsd, protocol.TotalReservesUsd, weightOld, weightNew)
	bucket.Utilization = fold(bucket.Utilization, protocol.Utilization, weightOld, weightNew)
	bucket.EventCount++

	if err := r.protocolBuckets.Upsert(ctx, bucket); err != nil {
		return fmt.Errorf("persist bucket %s: %w", bucketID, err)
	}
	observability.DefaultMetrics.BucketFolds.WithLabelValues(string(domain.BucketWeek)).Inc()
	return nil
}

// averageWeights returns the old-average and new-sample weights for a bucket
// that has already absorbed count samples: n/(n+1) and 1/(n+1).
func averageWeights(count int64) (weightOld, weightNew decimal.Decimal) {
	n := decimal.NewFromInt(count)
	denom := n.Add(one)
	return n.Div(denom), one.Div(denom)
}

func fold(oldAvg, sample, weightOld, weightNew decimal.Decimal) decimal.Decimal {
	return oldAvg.Mul(weightOld).Add(sample.Mul(weightNew))
}
