package reconcile

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

// ProtocolReconciler recomputes the protocol-wide USD rollup by summing every
// listed market.
type ProtocolReconciler struct {
	protocols storage.ProtocolStore
	markets   storage.MarketStore
	logger    *log.Logger
}

// NewProtocolReconciler creates a protocol reconciler.
func NewProtocolReconciler(protocols storage.ProtocolStore, markets storage.MarketStore, logger *log.Logger) *ProtocolReconciler {
	return &ProtocolReconciler{protocols: protocols, markets: markets, logger: logger}
}

// Update re-derives the protocol totals from the markets list. The totals are
// a full recompute, not an increment, so a single stale market cannot skew
// them permanently. A missing market row is logged and skipped rather than
// aborting the whole rollup.
func (r *ProtocolReconciler) Update(ctx context.Context, blockNumber int64) error {
	protocol, err := r.protocols.Get(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Printf("WARN: protocol missing in Update at block %d", blockNumber)
			return nil
		}
		return fmt.Errorf("load protocol: %w", err)
	}

	totalSupplyUsd := decimal.Zero
	totalBorrowUsd := decimal.Zero
	totalReservesUsd := decimal.Zero

	for _, marketID := range protocol.Markets {
		market, err := r.markets.Get(ctx, marketID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				r.logger.Printf("WARN: listed market %s missing in protocol rollup", marketID)
				continue
			}
			return fmt.Errorf("load market %s: %w", marketID, err)
		}
		totalSupplyUsd = totalSupplyUsd.Add(market.TotalSupply.Mul(market.UsdcPerUnderlying))
		totalBorrowUsd = totalBorrowUsd.Add(market.TotalBorrow.Mul(market.UsdcPerUnderlying))
		totalReservesUsd = totalReservesUsd.Add(market.TotalReserves.Mul(market.UsdcPerUnderlying))
	}

	protocol.TotalSupplyUsd = totalSupplyUsd
	protocol.TotalBorrowUsd = totalBorrowUsd
	protocol.TotalReservesUsd = totalReservesUsd
	if totalSupplyUsd.IsZero() {
		protocol.Utilization = decimal.Zero
	} else {
		protocol.Utilization = totalBorrowUsd.Div(totalSupplyUsd)
	}
	protocol.LatestBlockNumber = blockNumber

	if err := r.protocols.Upsert(ctx, protocol); err != nil {
		return fmt.Errorf("persist protocol: %w", err)
	}
	observability.DefaultMetrics.ProtocolUpdates.Inc()
	return nil
}

// SetOracle records an oracle replacement announced by the comptroller,
// lazily creating the protocol row when the announcement is the first event
// seen.
func (r *ProtocolReconciler) SetOracle(ctx context.Context, oracleAddress string, blockNumber int64) error {
	protocol, err := r.protocols.Get(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load protocol: %w", err)
		}
		protocol = domain.NewProtocol(oracleAddress, blockNumber)
	}

	protocol.PriceOracleAddress = oracleAddress
	protocol.LastOracleChangeBlock = blockNumber

	if err := r.protocols.Upsert(ctx, protocol); err != nil {
		return fmt.Errorf("persist protocol: %w", err)
	}
	return nil
}
