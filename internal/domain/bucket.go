package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BucketInterval is a fixed time-bucket width for historical snapshots.
type BucketInterval string

// Bucket intervals.
const (
	BucketHour BucketInterval = "hour"
	BucketDay  BucketInterval = "day"
	BucketWeek BucketInterval = "week"
)

// Seconds returns the bucket width in seconds.
func (b BucketInterval) Seconds() int64 {
	switch b {
	case BucketHour:
		return SecPerHour
	case BucketDay:
		return SecPerDay
	case BucketWeek:
		return SecPerWeek
	}
	return 0
}

// BucketID returns the bucket ordinal for a unix timestamp.
func (b BucketInterval) BucketID(timestamp int64) int64 {
	return timestamp / b.Seconds()
}

// MarketBucket is a count-weighted running average of a market's tracked
// fields over one hour/day/week window. Keyed by interval, bucket ordinal and
// the market's cToken symbol.
type MarketBucket struct {
	ID       string
	Interval BucketInterval
	MarketID string
	// Date is the bucket's start timestamp, rounded down to the bucket width.
	Date int64

	SupplyApy         decimal.Decimal
	BorrowApy         decimal.Decimal
	TotalSupplyApy    decimal.Decimal
	TotalBorrowApy    decimal.Decimal
	TotalSupply       decimal.Decimal
	TotalBorrow       decimal.Decimal
	TotalReserves     decimal.Decimal
	Utilization       decimal.Decimal
	UsdcPerUnderlying decimal.Decimal
	UsdcPerEth        decimal.Decimal
	UsdcPerIncentive  decimal.Decimal

	EventCount int64
}

// MarketBucketID composes a market bucket key.
func MarketBucketID(interval BucketInterval, timestamp int64, cTokenSymbol string) string {
	return fmt.Sprintf("%s-%d-%s", interval, interval.BucketID(timestamp), cTokenSymbol)
}

// NewMarketBucket returns a zeroed bucket stamped with its start timestamp.
func NewMarketBucket(interval BucketInterval, timestamp int64, marketID, cTokenSymbol string) *MarketBucket {
	bucketID := interval.BucketID(timestamp)
	return &MarketBucket{
		ID:                MarketBucketID(interval, timestamp, cTokenSymbol),
		Interval:          interval,
		MarketID:          marketID,
		Date:              bucketID * interval.Seconds(),
		SupplyApy:         decimal.Zero,
		BorrowApy:         decimal.Zero,
		TotalSupplyApy:    decimal.Zero,
		TotalBorrowApy:    decimal.Zero,
		TotalSupply:       decimal.Zero,
		TotalBorrow:       decimal.Zero,
		TotalReserves:     decimal.Zero,
		Utilization:       decimal.Zero,
		UsdcPerUnderlying: decimal.Zero,
		UsdcPerEth:        decimal.Zero,
		UsdcPerIncentive:  decimal.Zero,
	}
}

// ProtocolBucket is the protocol-wide weekly running average.
type ProtocolBucket struct {
	ID       string
	Interval BucketInterval
	Date     int64

	TotalSupplyUsd   decimal.Decimal
	TotalBorrowUsd   decimal.Decimal
	TotalReservesUsd decimal.Decimal
	Utilization      decimal.Decimal

	EventCount int64
}

// ProtocolBucketID composes a protocol bucket key.
func ProtocolBucketID(interval BucketInterval, timestamp int64) string {
	return fmt.Sprintf("%s-%d-%s", interval, interval.BucketID(timestamp), ProtocolID)
}

// NewProtocolBucket returns a zeroed protocol bucket.
func NewProtocolBucket(interval BucketInterval, timestamp int64) *ProtocolBucket {
	bucketID := interval.BucketID(timestamp)
	return &ProtocolBucket{
		ID:               ProtocolBucketID(interval, timestamp),
		Interval:         interval,
		Date:             bucketID * interval.Seconds(),
		TotalSupplyUsd:   decimal.Zero,
		TotalBorrowUsd:   decimal.Zero,
		TotalReservesUsd: decimal.Zero,
		Utilization:      decimal.Zero,
	}
}
