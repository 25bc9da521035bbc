package history

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/shopspring/decimal"

	"lending-index/internal/domain"
	"lending-index/internal/storage/memory"
)

func newTestRecorder(t *testing.T) (*Recorder, *memory.MarketStore, *memory.ProtocolStore, *memory.MarketBucketStore, *memory.ProtocolBucketStore) {
	t.Helper()

	markets := memory.NewMarketStore()
	protocols := memory.NewProtocolStore()
	marketBuckets := memory.NewMarketBucketStore()
	protocolBuckets := memory.NewProtocolBucketStore()

	recorder := NewRecorder(markets, protocols, marketBuckets, protocolBuckets, log.New(io.Discard, "", 0))
	return recorder, markets, protocols, marketBuckets, protocolBuckets
}

func seedMarket(t *testing.T, markets *memory.MarketStore, supplyApy int64) *domain.Market {
	t.Helper()

	market := domain.NewMarket("0xmarket1", 100)
	market.CTokenSymbol = "cTEST"
	market.SupplyApy = decimal.NewFromInt(supplyApy)

	if err := markets.Upsert(context.Background(), market); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	return market
}

func TestRecordMarket_CreatesAllIntervals(t *testing.T) {
	recorder, markets, _, marketBuckets, _ := newTestRecorder(t)
	ctx := context.Background()

	seedMarket(t, markets, 10)

	timestamp := int64(1700000000)
	if err := recorder.RecordMarket(ctx, "0xmarket1", timestamp); err != nil {
		t.Fatalf("RecordMarket failed: %v", err)
	}

	for _, interval := range []domain.BucketInterval{domain.BucketHour, domain.BucketDay, domain.BucketWeek} {
		bucketID := domain.MarketBucketID(interval, timestamp, "cTEST")
		bucket, err := marketBuckets.Get(ctx, bucketID)
		if err != nil {
			t.Fatalf("%s bucket missing: %v", interval, err)
		}
		if bucket.EventCount != 1 {
			t.Errorf("%s bucket EventCount = %d, want 1", interval, bucket.EventCount)
		}
		if !bucket.SupplyApy.Equal(decimal.NewFromInt(10)) {
			t.Errorf("%s bucket SupplyApy = %s, want 10", interval, bucket.SupplyApy)
		}
		if bucket.Date != interval.BucketID(timestamp)*interval.Seconds() {
			t.Errorf("%s bucket Date = %d not aligned", interval, bucket.Date)
		}
	}
}

func TestRecordMarket_CountWeightedAverage(t *testing.T) {
	recorder, markets, _, marketBuckets, _ := newTestRecorder(t)
	ctx := context.Background()

	timestamp := int64(1700000000)

	// Fold three snapshots with SupplyApy 10, 20, 30 and the incentive price
	// at 10x that: both running averages pass through the same sequence.
	wantAfter := []int64{10, 15, 20}
	for i, apy := range []int64{10, 20, 30} {
		market := seedMarket(t, markets, apy)
		market.UsdcPerIncentive = decimal.NewFromInt(apy * 10)
		if err := markets.Upsert(ctx, market); err != nil {
			t.Fatalf("seed market: %v", err)
		}
		if err := recorder.RecordMarket(ctx, "0xmarket1", timestamp); err != nil {
			t.Fatalf("RecordMarket failed: %v", err)
		}

		bucket, err := marketBuckets.Get(ctx, domain.MarketBucketID(domain.BucketHour, timestamp, "cTEST"))
		if err != nil {
			t.Fatalf("bucket missing: %v", err)
		}
		if !bucket.SupplyApy.Equal(decimal.NewFromInt(wantAfter[i])) {
			t.Errorf("After sample %d: SupplyApy = %s, want %d", i+1, bucket.SupplyApy, wantAfter[i])
		}
		if !bucket.UsdcPerIncentive.Equal(decimal.NewFromInt(wantAfter[i] * 10)) {
			t.Errorf("After sample %d: UsdcPerIncentive = %s, want %d", i+1, bucket.UsdcPerIncentive, wantAfter[i]*10)
		}
		if bucket.EventCount != int64(i+1) {
			t.Errorf("After sample %d: EventCount = %d", i+1, bucket.EventCount)
		}
	}
}

func TestRecordMarket_SeparateBucketsPerWindow(t *testing.T) {
	recorder, markets, _, marketBuckets, _ := newTestRecorder(t)
	ctx := context.Background()

	seedMarket(t, markets, 10)

	// Two timestamps an hour apart land in different hour buckets but the
	// same day bucket.
	ts1 := int64(1700000000)
	ts2 := ts1 + domain.SecPerHour

	if err := recorder.RecordMarket(ctx, "0xmarket1", ts1); err != nil {
		t.Fatalf("RecordMarket failed: %v", err)
	}
	if err := recorder.RecordMarket(ctx, "0xmarket1", ts2); err != nil {
		t.Fatalf("RecordMarket failed: %v", err)
	}

	hour1, err := marketBuckets.Get(ctx, domain.MarketBucketID(domain.BucketHour, ts1, "cTEST"))
	if err != nil {
		t.Fatalf("first hour bucket missing: %v", err)
	}
	hour2, err := marketBuckets.Get(ctx, domain.MarketBucketID(domain.BucketHour, ts2, "cTEST"))
	if err != nil {
		t.Fatalf("second hour bucket missing: %v", err)
	}
	if hour1.ID == hour2.ID {
		t.Fatal("timestamps an hour apart should produce distinct hour buckets")
	}
	if hour1.EventCount != 1 || hour2.EventCount != 1 {
		t.Errorf("hour buckets should have one sample each, got %d and %d", hour1.EventCount, hour2.EventCount)
	}

	day, err := marketBuckets.Get(ctx, domain.MarketBucketID(domain.BucketDay, ts1, "cTEST"))
	if err != nil {
		t.Fatalf("day bucket missing: %v", err)
	}
	if day.EventCount != 2 {
		t.Errorf("day bucket should absorb both samples, got EventCount=%d", day.EventCount)
	}
}

func TestRecordMarket_MissingMarketIsSkipped(t *testing.T) {
	recorder, _, _, _, _ := newTestRecorder(t)

	if err := recorder.RecordMarket(context.Background(), "0xmissing", 1700000000); err != nil {
		t.Errorf("missing market should be skipped, got error: %v", err)
	}
}

func TestRecordProtocol_WeeklyFold(t *testing.T) {
	recorder, _, protocols, _, protocolBuckets := newTestRecorder(t)
	ctx := context.Background()

	timestamp := int64(1700000000)

	for i, total := range []int64{1000, 3000} {
		protocol := domain.NewProtocol("0xoracle", 100)
		protocol.TotalSupplyUsd = decimal.NewFromInt(total)
		if err := protocols.Upsert(ctx, protocol); err != nil {
			t.Fatalf("seed protocol: %v", err)
		}

		if err := recorder.RecordProtocol(ctx, timestamp); err != nil {
			t.Fatalf("RecordProtocol failed: %v", err)
		}

		bucket, err := protocolBuckets.Get(ctx, domain.ProtocolBucketID(domain.BucketWeek, timestamp))
		if err != nil {
			t.Fatalf("protocol bucket missing: %v", err)
		}
		if bucket.EventCount != int64(i+1) {
			t.Errorf("EventCount = %d, want %d", bucket.EventCount, i+1)
		}
		want := []int64{1000, 2000}[i]
		if !bucket.TotalSupplyUsd.Equal(decimal.NewFromInt(want)) {
			t.Errorf("After sample %d: TotalSupplyUsd = %s, want %d", i+1, bucket.TotalSupplyUsd, want)
		}
	}
}

func TestRecordProtocol_MissingProtocolIsSkipped(t *testing.T) {
	recorder, _, _, _, _ := newTestRecorder(t)

	if err := recorder.RecordProtocol(context.Background(), 1700000000); err != nil {
		t.Errorf("missing protocol should be skipped, got error: %v", err)
	}
}
