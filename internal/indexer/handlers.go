// Package indexer dispatches typed chain events to the reconcilers, the
// history recorder and the append-only event log. It encodes the protocol's
// emission-ordering contracts: interest accrual precedes the balance-changing
// events of the same transaction, so per-event handlers never refresh market
// aggregates themselves.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"lending-index/internal/chain"
	"lending-index/internal/domain"
	"lending-index/internal/history"
	"lending-index/internal/numeric"
	"lending-index/internal/observability"
	"lending-index/internal/reconcile"
	"lending-index/internal/storage"
)

// Indexer applies one typed chain event at a time, in stream order.
type Indexer struct {
	markets   storage.MarketStore
	protocols storage.ProtocolStore
	eventLog  storage.EventLogStore

	marketRec   *reconcile.MarketReconciler
	protocolRec *reconcile.ProtocolReconciler
	userRec     *reconcile.UserReconciler
	history     *history.Recorder

	registry chain.Registry
	logger   *log.Logger
}

// New creates an indexer.
func New(
	markets storage.MarketStore,
	protocols storage.ProtocolStore,
	eventLog storage.EventLogStore,
	marketRec *reconcile.MarketReconciler,
	protocolRec *reconcile.ProtocolReconciler,
	userRec *reconcile.UserReconciler,
	recorder *history.Recorder,
	registry chain.Registry,
	logger *log.Logger,
) *Indexer {
	return &Indexer{
		markets:     markets,
		protocols:   protocols,
		eventLog:    eventLog,
		marketRec:   marketRec,
		protocolRec: protocolRec,
		userRec:     userRec,
		history:     recorder,
		registry:    registry,
		logger:      logger,
	}
}

// HandleEvent dispatches one event. Events must arrive in (block number, log
// index) order; the caller enforces that.
func (ix *Indexer) HandleEvent(ctx context.Context, event chain.Event) error {
	kind := eventKind(event)
	start := time.Now()

	var err error
	switch e := event.(type) {
	case *chain.MarketListed:
		err = ix.handleMarketListed(ctx, e)
	case *chain.NewPriceOracle:
		err = ix.handleNewPriceOracle(ctx, e)
	case *chain.MarketEntered:
		err = ix.userRec.SetEnteredMarket(ctx, e.Account, e.CToken, e.BlockNumber, true)
	case *chain.MarketExited:
		err = ix.userRec.SetEnteredMarket(ctx, e.Account, e.CToken, e.BlockNumber, false)
	case *chain.AccrueInterest:
		err = ix.handleAccrueInterest(ctx, e)
	case *chain.Mint:
		err = ix.handleMint(ctx, e)
	case *chain.Redeem:
		err = ix.handleRedeem(ctx, e)
	case *chain.Borrow:
		err = ix.handleBorrow(ctx, e)
	case *chain.RepayBorrow:
		err = ix.handleRepayBorrow(ctx, e)
	case *chain.LiquidateBorrow:
		err = ix.handleLiquidateBorrow(ctx, e)
	case *chain.Transfer:
		err = ix.handleTransfer(ctx, e)
	case *chain.Approval:
		err = ix.handleApproval(ctx, e)
	case *chain.NewReserveFactor:
		err = ix.handleNewReserveFactor(ctx, e)
	default:
		ix.logger.Printf("WARN: unhandled event type %T", event)
	}

	observability.RecordEventProcessed(kind)
	observability.RecordHandleLatency(kind, time.Since(start).Seconds())
	observability.UpdateHighestBlock(event.Meta().BlockNumber)
	observability.UpdateLastProcessed(event.Meta().Timestamp)
	if err != nil {
		observability.RecordEventError(kind)
	}
	return err
}

// handleMarketListed creates the market, registers it for event delivery and
// adds it to the protocol's market list.
func (ix *Indexer) handleMarketListed(ctx context.Context, e *chain.MarketListed) error {
	market, err := ix.marketRec.Create(ctx, e.CToken, e.BlockNumber)
	if err != nil {
		return fmt.Errorf("market listed: %w", err)
	}

	ix.registry.RegisterMarket(e.CToken)

	protocol, err := ix.protocols.Get(ctx)
	if err != nil {
		return fmt.Errorf("load protocol: %w", err)
	}
	protocol.AddMarket(market.ID)
	if err := ix.protocols.Upsert(ctx, protocol); err != nil {
		return fmt.Errorf("persist protocol: %w", err)
	}
	return nil
}

func (ix *Indexer) handleNewPriceOracle(ctx context.Context, e *chain.NewPriceOracle) error {
	return ix.protocolRec.SetOracle(ctx, chain.AddressID(e.NewPriceOracle), e.BlockNumber)
}

// handleAccrueInterest refreshes the emitting market, the protocol rollup and
// both historical bucket sets. The mint/redeem/borrow/repay events that follow
// in the same transaction see the refreshed rows and skip the refresh via the
// per-block gate.
func (ix *Indexer) handleAccrueInterest(ctx context.Context, e *chain.AccrueInterest) error {
	if err := ix.marketRec.Update(ctx, e.Contract, e.BlockNumber); err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}
	if err := ix.protocolRec.Update(ctx, e.BlockNumber); err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}
	if err := ix.history.RecordMarket(ctx, chain.AddressID(e.Contract), e.Timestamp); err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}
	if err := ix.history.RecordProtocol(ctx, e.Timestamp); err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}
	return nil
}

func (ix *Indexer) handleMint(ctx context.Context, e *chain.Mint) error {
	market, ok, err := ix.loadMarket(ctx, e.Contract, "Mint")
	if err != nil || !ok {
		return err
	}

	if err := ix.userRec.UpdateBalance(ctx, e.Minter, e.Contract, e.BlockNumber); err != nil {
		return fmt.Errorf("mint: %w", err)
	}

	record := ix.newRecord(domain.EventMint, e.Meta())
	record.UserMarketID = domain.UserMarketID(chain.AddressID(e.Minter), market.ID)
	record.UnderlyingAmount = numeric.TokenAmountToDecimal(e.MintAmount, market.UnderlyingDecimals)
	record.CTokenAmount = numeric.TokenAmountToDecimal(e.MintTokens, market.CTokenDecimals)
	return ix.appendRecord(ctx, record)
}

func (ix *Indexer) handleRedeem(ctx context.Context, e *chain.Redeem) error {
	market, ok, err := ix.loadMarket(ctx, e.Contract, "Redeem")
	if err != nil || !ok {
		return err
	}

	if err := ix.userRec.UpdateBalance(ctx, e.Redeemer, e.Contract, e.BlockNumber); err != nil {
		return fmt.Errorf("redeem: %w", err)
	}

	record := ix.newRecord(domain.EventRedeem, e.Meta())
	record.UserMarketID = domain.UserMarketID(chain.AddressID(e.Redeemer), market.ID)
	record.UnderlyingAmount = numeric.TokenAmountToDecimal(e.RedeemAmount, market.UnderlyingDecimals)
	record.CTokenAmount = numeric.TokenAmountToDecimal(e.RedeemTokens, market.CTokenDecimals)
	return ix.appendRecord(ctx, record)
}

func (ix *Indexer) handleBorrow(ctx context.Context, e *chain.Borrow) error {
	market, ok, err := ix.loadMarket(ctx, e.Contract, "Borrow")
	if err != nil || !ok {
		return err
	}

	if err := ix.userRec.UpdateBalance(ctx, e.Borrower, e.Contract, e.BlockNumber); err != nil {
		return fmt.Errorf("borrow: %w", err)
	}

	record := ix.newRecord(domain.EventBorrow, e.Meta())
	record.UserMarketID = domain.UserMarketID(chain.AddressID(e.Borrower), market.ID)
	record.UnderlyingAmount = numeric.TokenAmountToDecimal(e.BorrowAmount, market.UnderlyingDecimals)
	return ix.appendRecord(ctx, record)
}

func (ix *Indexer) handleRepayBorrow(ctx context.Context, e *chain.RepayBorrow) error {
	market, ok, err := ix.loadMarket(ctx, e.Contract, "RepayBorrow")
	if err != nil || !ok {
		return err
	}

	// The payer may be a third party; the position that changes is always the
	// borrower's.
	if err := ix.userRec.UpdateBalance(ctx, e.Borrower, e.Contract, e.BlockNumber); err != nil {
		return fmt.Errorf("repay borrow: %w", err)
	}

	record := ix.newRecord(domain.EventRepayBorrow, e.Meta())
	record.UserMarketID = domain.UserMarketID(chain.AddressID(e.Borrower), market.ID)
	record.UnderlyingAmount = numeric.TokenAmountToDecimal(e.RepayAmount, market.UnderlyingDecimals)
	return ix.appendRecord(ctx, record)
}

// handleLiquidateBorrow touches three positions: the borrower's debt position
// in the emitting market, and the borrower's and liquidator's collateral
// positions in the seize market.
func (ix *Indexer) handleLiquidateBorrow(ctx context.Context, e *chain.LiquidateBorrow) error {
	debtMarket, ok, err := ix.loadMarket(ctx, e.Contract, "LiquidateBorrow")
	if err != nil || !ok {
		return err
	}
	seizeMarket, ok, err := ix.loadMarket(ctx, e.CTokenCollateral, "LiquidateBorrow")
	if err != nil || !ok {
		return err
	}

	if err := ix.userRec.UpdateBalance(ctx, e.Borrower, e.Contract, e.BlockNumber); err != nil {
		return fmt.Errorf("liquidate borrow: %w", err)
	}
	if err := ix.userRec.UpdateBalance(ctx, e.Borrower, e.CTokenCollateral, e.BlockNumber); err != nil {
		return fmt.Errorf("liquidate borrow: %w", err)
	}
	if err := ix.userRec.UpdateBalance(ctx, e.Liquidator, e.CTokenCollateral, e.BlockNumber); err != nil {
		return fmt.Errorf("liquidate borrow: %w", err)
	}

	borrowerID := chain.AddressID(e.Borrower)
	record := ix.newRecord(domain.EventLiquidation, e.Meta())
	record.UserMarketID = domain.UserMarketID(borrowerID, debtMarket.ID)
	record.SeizeUserMarketID = domain.UserMarketID(borrowerID, seizeMarket.ID)
	record.LiquidatorUserMarketID = domain.UserMarketID(chain.AddressID(e.Liquidator), seizeMarket.ID)
	record.UnderlyingAmount = numeric.TokenAmountToDecimal(e.RepayAmount, debtMarket.UnderlyingDecimals)
	record.CTokenAmount = numeric.TokenAmountToDecimal(e.SeizeTokens, seizeMarket.CTokenDecimals)
	return ix.appendRecord(ctx, record)
}

// handleTransfer processes wallet-to-wallet cToken movements. Transfers where
// the market contract itself is a party are the internal legs of mint, redeem
// and liquidation and are dropped: their dedicated events already cover them.
// Unlike the other cToken events a bare transfer carries no AccrueInterest,
// so the market, protocol and history refreshes run here.
func (ix *Indexer) handleTransfer(ctx context.Context, e *chain.Transfer) error {
	if e.From == e.Contract || e.To == e.Contract {
		return nil
	}

	market, ok, err := ix.loadMarket(ctx, e.Contract, "Transfer")
	if err != nil || !ok {
		return err
	}

	if err := ix.marketRec.Update(ctx, e.Contract, e.BlockNumber); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if err := ix.protocolRec.Update(ctx, e.BlockNumber); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	if err := ix.userRec.UpdateBalance(ctx, e.From, e.Contract, e.BlockNumber); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if err := ix.userRec.UpdateBalance(ctx, e.To, e.Contract, e.BlockNumber); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	record := ix.newRecord(domain.EventTransfer, e.Meta())
	record.UserMarketID = domain.UserMarketID(chain.AddressID(e.From), market.ID)
	record.ToUserMarketID = domain.UserMarketID(chain.AddressID(e.To), market.ID)
	record.CTokenAmount = numeric.TokenAmountToDecimal(e.Amount, market.CTokenDecimals)
	if err := ix.appendRecord(ctx, record); err != nil {
		return err
	}

	if err := ix.history.RecordMarket(ctx, market.ID, e.Timestamp); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if err := ix.history.RecordProtocol(ctx, e.Timestamp); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	return nil
}

func (ix *Indexer) handleApproval(ctx context.Context, e *chain.Approval) error {
	market, ok, err := ix.loadMarket(ctx, e.Contract, "Approval")
	if err != nil || !ok {
		return err
	}

	amount := numeric.TokenAmountToDecimal(e.Amount, market.CTokenDecimals)
	if err := ix.userRec.SetApproval(ctx, e.Owner, e.Contract, e.BlockNumber, amount); err != nil {
		return fmt.Errorf("approval: %w", err)
	}

	record := ix.newRecord(domain.EventApproval, e.Meta())
	record.UserMarketID = domain.UserMarketID(chain.AddressID(e.Owner), market.ID)
	record.CTokenAmount = amount
	return ix.appendRecord(ctx, record)
}

func (ix *Indexer) handleNewReserveFactor(ctx context.Context, e *chain.NewReserveFactor) error {
	mantissa := numeric.TokenAmountToDecimal(e.NewReserveFactorMantissa, numeric.MantissaDecimals)
	return ix.marketRec.SetReserveFactor(ctx, e.Contract, mantissa)
}

// loadMarket fetches the market row for an event's emitting contract. Events
// for unknown markets are logged and skipped, not failed: the stream can
// contain logs from contracts listed before the indexer's start block.
func (ix *Indexer) loadMarket(ctx context.Context, marketAddr common.Address, eventName string) (*domain.Market, bool, error) {
	marketID := chain.AddressID(marketAddr)
	market, err := ix.markets.Get(ctx, marketID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ix.logger.Printf("WARN: %s for unknown market %s, skipping", eventName, marketID)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load market %s: %w", marketID, err)
	}
	return market, true, nil
}

func (ix *Indexer) newRecord(kind domain.EventKind, meta chain.EventMeta) *domain.EventRecord {
	return &domain.EventRecord{
		ID:               domain.EventRecordID(meta.TxHash.Hex(), meta.LogIndex),
		Kind:             kind,
		BlockNumber:      meta.BlockNumber,
		Timestamp:        meta.Timestamp,
		UnderlyingAmount: decimal.Zero,
		CTokenAmount:     decimal.Zero,
	}
}

// appendRecord inserts into the append-only log. A duplicate key means the
// log already has this (tx, log index) pair, which happens on re-delivery
// after a restart; it is counted and dropped, never overwritten.
func (ix *Indexer) appendRecord(ctx context.Context, record *domain.EventRecord) error {
	if err := ix.eventLog.Insert(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			observability.DefaultMetrics.DuplicateEventRecords.Inc()
			ix.logger.Printf("WARN: duplicate event record %s dropped", record.ID)
			return nil
		}
		return fmt.Errorf("append event record %s: %w", record.ID, err)
	}
	return nil
}

func eventKind(event chain.Event) string {
	switch event.(type) {
	case *chain.MarketListed:
		return "market_listed"
	case *chain.NewPriceOracle:
		return "new_price_oracle"
	case *chain.MarketEntered:
		return "market_entered"
	case *chain.MarketExited:
		return "market_exited"
	case *chain.AccrueInterest:
		return "accrue_interest"
	case *chain.Mint:
		return string(domain.EventMint)
	case *chain.Redeem:
		return string(domain.EventRedeem)
	case *chain.Borrow:
		return string(domain.EventBorrow)
	case *chain.RepayBorrow:
		return string(domain.EventRepayBorrow)
	case *chain.LiquidateBorrow:
		return string(domain.EventLiquidation)
	case *chain.Transfer:
		return string(domain.EventTransfer)
	case *chain.Approval:
		return string(domain.EventApproval)
	case *chain.NewReserveFactor:
		return "new_reserve_factor"
	}
	return "unknown"
}
