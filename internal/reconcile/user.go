package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"lending-index/internal/chain"
	"lending-index/internal/domain"
	"lending-index/internal/numeric"
	"lending-index/internal/observability"
	"lending-index/internal/storage"
)

// UserReconciler creates users and positions lazily on first interaction and
// re-derives position balances from contract state.
type UserReconciler struct {
	users       storage.UserStore
	userMarkets storage.UserMarketStore
	markets     storage.MarketStore
	reader      chain.Reader
	logger      *log.Logger
}

// NewUserReconciler creates a user reconciler.
func NewUserReconciler(users storage.UserStore, userMarkets storage.UserMarketStore, markets storage.MarketStore, reader chain.Reader, logger *log.Logger) *UserReconciler {
	return &UserReconciler{
		users:       users,
		userMarkets: userMarkets,
		markets:     markets,
		reader:      reader,
		logger:      logger,
	}
}

// EnsureUser loads or creates the wallet-level row. All user creation funnels
// through here so the first-seen block is recorded exactly once.
func (r *UserReconciler) EnsureUser(ctx context.Context, userAddr common.Address, blockNumber int64) (*domain.User, error) {
	userID := chain.AddressID(userAddr)

	user, err := r.users.Get(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}

	user = domain.NewUser(userID, blockNumber)
	if err := r.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("create user %s: %w", userID, err)
	}
	return user, nil
}

// EnsureUserMarket loads or creates the (user, market) position, ensuring the
// owning user exists and references the position.
func (r *UserReconciler) EnsureUserMarket(ctx context.Context, userAddr, marketAddr common.Address, blockNumber int64) (*domain.UserMarket, error) {
	user, err := r.EnsureUser(ctx, userAddr, blockNumber)
	if err != nil {
		return nil, err
	}

	userMarketID := domain.UserMarketID(user.ID, chain.AddressID(marketAddr))

	userMarket, err := r.userMarkets.Get(ctx, userMarketID)
	if err == nil {
		return userMarket, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load position %s: %w", userMarketID, err)
	}

	userMarket = domain.NewUserMarket(user.ID, chain.AddressID(marketAddr), blockNumber)
	if err := r.userMarkets.Upsert(ctx, userMarket); err != nil {
		return nil, fmt.Errorf("create position %s: %w", userMarketID, err)
	}

	user.AddUserMarket(userMarketID)
	if err := r.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("persist user %s: %w", user.ID, err)
	}
	return userMarket, nil
}

// UpdateBalance re-reads the user's cToken balance and borrow balance for one
// market and re-derives the USD figures through the market's current prices.
// Each contract read is individually fallible: a reverted read leaves the
// corresponding fields unchanged instead of zeroing a live position.
func (r *UserReconciler) UpdateBalance(ctx context.Context, userAddr, marketAddr common.Address, blockNumber int64) error {
	marketID := chain.AddressID(marketAddr)

	market, err := r.markets.Get(ctx, marketID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Printf("WARN: market %s missing in UpdateBalance", marketID)
			return nil
		}
		return fmt.Errorf("load market %s: %w", marketID, err)
	}

	userMarket, err := r.EnsureUserMarket(ctx, userAddr, marketAddr, blockNumber)
	if err != nil {
		return err
	}
	userMarket.LatestBlockNumber = blockNumber

	if raw, ok := r.reader.BalanceOf(marketAddr, userAddr, blockNumber); ok {
		userMarket.CTokenBalance = numeric.TokenAmountToDecimal(raw, market.CTokenDecimals)
		userMarket.TotalSupply = userMarket.CTokenBalance.Mul(market.ExchangeRate)
		userMarket.TotalSupplyUsd = userMarket.TotalSupply.Mul(market.UsdcPerUnderlying)
	} else {
		r.logger.Printf("WARN: balanceOf() reverted for %s on %s", chain.AddressID(userAddr), marketID)
		observability.RecordRevertedRead("balanceOf")
	}

	if raw, ok := r.reader.BorrowBalanceCurrent(marketAddr, userAddr, blockNumber); ok {
		userMarket.TotalBorrow = numeric.TokenAmountToDecimal(raw, market.UnderlyingDecimals)
		userMarket.TotalBorrowUsd = userMarket.TotalBorrow.Mul(market.UsdcPerUnderlying)
	} else {
		r.logger.Printf("WARN: borrowBalanceCurrent() reverted for %s on %s", chain.AddressID(userAddr), marketID)
		observability.RecordRevertedRead("borrowBalanceCurrent")
	}

	if err := r.userMarkets.Upsert(ctx, userMarket); err != nil {
		return fmt.Errorf("persist position %s: %w", userMarket.ID, err)
	}
	observability.DefaultMetrics.PositionUpdates.Inc()

	return r.UpdateAggregates(ctx, userMarket.UserID, blockNumber)
}

// SetEnteredMarket flips the collateral opt-in flag for the position.
func (r *UserReconciler) SetEnteredMarket(ctx context.Context, userAddr, marketAddr common.Address, blockNumber int64, entered bool) error {
	userMarket, err := r.EnsureUserMarket(ctx, userAddr, marketAddr, blockNumber)
	if err != nil {
		return err
	}
	userMarket.EnteredMarket = entered
	userMarket.LatestBlockNumber = blockNumber

	if err := r.userMarkets.Upsert(ctx, userMarket); err != nil {
		return fmt.Errorf("persist position %s: %w", userMarket.ID, err)
	}
	return nil
}

// SetApproval records the latest underlying-transfer allowance on the position.
func (r *UserReconciler) SetApproval(ctx context.Context, userAddr, marketAddr common.Address, blockNumber int64, amount decimal.Decimal) error {
	userMarket, err := r.EnsureUserMarket(ctx, userAddr, marketAddr, blockNumber)
	if err != nil {
		return err
	}
	userMarket.ApprovalAmount = amount
	userMarket.LatestBlockNumber = blockNumber

	if err := r.userMarkets.Upsert(ctx, userMarket); err != nil {
		return fmt.Errorf("persist position %s: %w", userMarket.ID, err)
	}
	return nil
}

// UpdateAggregates recomputes the wallet-level USD totals by summing the
// user's positions. Like the protocol rollup this is a full recompute.
func (r *UserReconciler) UpdateAggregates(ctx context.Context, userID string, blockNumber int64) error {
	user, err := r.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Printf("WARN: user %s missing in UpdateAggregates", userID)
			return nil
		}
		return fmt.Errorf("load user %s: %w", userID, err)
	}

	totalSupplyUsd := decimal.Zero
	totalBorrowUsd := decimal.Zero
	for _, userMarketID := range user.UserMarkets {
		userMarket, err := r.userMarkets.Get(ctx, userMarketID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				r.logger.Printf("WARN: position %s missing in user rollup", userMarketID)
				continue
			}
			return fmt.Errorf("load position %s: %w", userMarketID, err)
		}
		totalSupplyUsd = totalSupplyUsd.Add(userMarket.TotalSupplyUsd)
		totalBorrowUsd = totalBorrowUsd.Add(userMarket.TotalBorrowUsd)
	}

	user.TotalSupplyUsd = totalSupplyUsd
	user.TotalBorrowUsd = totalBorrowUsd
	user.LastBlockNumber = blockNumber

	if err := r.users.Upsert(ctx, user); err != nil {
		return fmt.Errorf("persist user %s: %w", userID, err)
	}
	return nil
}
