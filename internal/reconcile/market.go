// Package reconcile contains the state-reconciliation engine: idempotent
// create/update operations that re-derive Market, Protocol and UserMarket
// aggregates from live contract state whenever a chain event arrives.
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
	"lending-index/internal/oracle"
	"lending-index/internal/storage"
)

// MarketReconciler creates markets and re-derives their aggregate snapshots
// from contract state, at most once per block per market.
type MarketReconciler struct {
	markets   storage.MarketStore
	protocols storage.ProtocolStore
	reader    chain.Reader
	oracle    *oracle.Resolver
	logger    *log.Logger
}

// NewMarketReconciler creates a market reconciler.
func NewMarketReconciler(markets storage.MarketStore, protocols storage.ProtocolStore, reader chain.Reader, resolver *oracle.Resolver, logger *log.Logger) *MarketReconciler {
	return &MarketReconciler{
		markets:   markets,
		protocols: protocols,
		reader:    reader,
		oracle:    resolver,
		logger:    logger,
	}
}

// EnsureProtocol loads the protocol row, lazily creating a default one so
// market creation works regardless of whether a NewPriceOracle event was
// seen first.
func (r *MarketReconciler) EnsureProtocol(ctx context.Context, blockNumber int64) (*domain.Protocol, error) {
	protocol, err := r.protocols.Get(ctx)
	if err == nil {
		return protocol, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load protocol: %w", err)
	}

	protocol = domain.NewProtocol(oracle.DefaultOracleAddress(blockNumber), blockNumber)
	if err := r.protocols.Upsert(ctx, protocol); err != nil {
		return nil, fmt.Errorf("create protocol: %w", err)
	}
	return protocol, nil
}

// Create reads the static market descriptors and persists a new market with
// all dynamic fields zeroed. The native-asset market has no ERC-20 underlying
// interface and gets fixed descriptors instead.
func (r *MarketReconciler) Create(ctx context.Context, marketAddr common.Address, blockNumber int64) (*domain.Market, error) {
	if _, err := r.EnsureProtocol(ctx, blockNumber); err != nil {
		return nil, err
	}

	marketID := chain.AddressID(marketAddr)
	r.logger.Printf("creating market %s at block %d", marketID, blockNumber)

	market := domain.NewMarket(marketID, blockNumber)

	if symbol, ok := r.reader.Symbol(marketAddr, blockNumber); ok {
		market.CTokenSymbol = symbol
	} else {
		r.logger.Printf("WARN: symbol() reverted for market %s", marketID)
	}
	if decimals, ok := r.reader.Decimals(marketAddr, blockNumber); ok {
		market.CTokenDecimals = decimals
	} else {
		r.logger.Printf("WARN: decimals() reverted for market %s", marketID)
	}
	if comptroller, ok := r.reader.Comptroller(marketAddr, blockNumber); ok {
		market.ComptrollerAddress = chain.AddressID(comptroller)
	}

	if marketID == domain.CEthAddress {
		// The native-asset market has no underlying contract to query.
		market.UnderlyingAddress = domain.EthAddress
		market.UnderlyingName = "Ether"
		market.UnderlyingSymbol = "ETH"
		market.UnderlyingDecimals = 18
	} else {
		underlying, ok := r.reader.Underlying(marketAddr, blockNumber)
		if !ok {
			return nil, fmt.Errorf("underlying() reverted for market %s", marketID)
		}
		market.UnderlyingAddress = chain.AddressID(underlying)

		if market.UnderlyingAddress == domain.SaiAddress {
			// The SAI contract returns garbage for name and symbol.
			market.UnderlyingName = "Sai Stablecoin v1.0 (SAI)"
			market.UnderlyingSymbol = "SAI"
		} else {
			if name, ok := r.reader.Name(underlying, blockNumber); ok {
				market.UnderlyingName = name
			}
			if symbol, ok := r.reader.Symbol(underlying, blockNumber); ok {
				market.UnderlyingSymbol = symbol
			}
		}
		if decimals, ok := r.reader.Decimals(underlying, blockNumber); ok {
			market.UnderlyingDecimals = decimals
		}
	}

	if err := r.markets.Upsert(ctx, market); err != nil {
		return nil, fmt.Errorf("persist market %s: %w", marketID, err)
	}
	return market, nil
}

// Update re-derives every dynamic market field from the block-pinned contract
// state. It is a no-op when the market was already updated for this block:
// several events land in one block and would otherwise re-read and re-average
// identical state.
func (r *MarketReconciler) Update(ctx context.Context, marketAddr common.Address, blockNumber int64) error {
	marketID := chain.AddressID(marketAddr)

	market, err := r.markets.Get(ctx, marketID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Printf("WARN: market %s missing in Update", marketID)
			return nil
		}
		return fmt.Errorf("load market %s: %w", marketID, err)
	}

	if market.LatestBlockNumber == blockNumber {
		return nil
	}

	// Step 1: prices. A zero base rate means the oracle state for this block
	// is unusable; skip the whole update rather than writing wrong numbers.
	usdcPerEth := r.oracle.UsdcPerEth(ctx, blockNumber)
	if usdcPerEth.IsZero() {
		r.logger.Printf("WARN: got zero for USD/ETH rate at block %d, skipping update of %s", blockNumber, marketID)
		return nil
	}
	r.resolvePrices(ctx, market, marketAddr, blockNumber, usdcPerEth)

	market.LatestBlockNumber = blockNumber

	// Step 2: exchange rate. The raw mantissa is scaled by
	// 18 + underlyingDecimals - cTokenDecimals, which handles assets whose
	// decimals differ from the canonical 18.
	if raw, ok := r.reader.ExchangeRateStored(marketAddr, blockNumber); ok {
		market.ExchangeRate = numeric.TokenAmountToDecimal(
			raw, numeric.MantissaDecimals+market.UnderlyingDecimals-market.CTokenDecimals,
		).Truncate(numeric.MantissaDecimals)
	} else {
		r.logger.Printf("WARN: exchangeRateStored() reverted for %s", marketID)
		observability.RecordRevertedRead("exchangeRateStored")
	}

	// Step 3: money totals.
	if raw, ok := r.reader.TotalSupply(marketAddr, blockNumber); ok {
		cTokenSupply := numeric.TokenAmountToDecimal(raw, market.CTokenDecimals)
		market.TotalSupply = cTokenSupply.Mul(market.ExchangeRate)
	}
	if raw, ok := r.reader.TotalReserves(marketAddr, blockNumber); ok {
		market.TotalReserves = numeric.TokenAmountToDecimal(raw, market.UnderlyingDecimals)
	}
	if raw, ok := r.reader.TotalBorrows(marketAddr, blockNumber); ok {
		market.TotalBorrow = numeric.TokenAmountToDecimal(raw, market.UnderlyingDecimals)
	}
	if raw, ok := r.reader.GetCash(marketAddr, blockNumber); ok {
		market.Cash = numeric.TokenAmountToDecimal(raw, market.UnderlyingDecimals)
	}

	// Step 4: utilization, zero-guarded.
	if market.TotalSupply.IsZero() {
		market.Utilization = decimal.Zero
	} else {
		market.Utilization = market.TotalBorrow.Div(market.TotalSupply)
	}

	// Step 5: per-block rates and their compounded APYs.
	if raw, ok := r.reader.BorrowRatePerBlock(marketAddr, blockNumber); ok {
		market.BorrowRatePerBlock = numeric.TokenAmountToDecimal(raw, numeric.MantissaDecimals)
	}
	// supplyRatePerBlock reverts on the first call to some markets; treat as
	// zero rather than failing the update.
	if raw, ok := r.reader.SupplyRatePerBlock(marketAddr, blockNumber); ok {
		market.SupplyRatePerBlock = numeric.TokenAmountToDecimal(raw, numeric.MantissaDecimals)
	} else {
		r.logger.Printf("WARN: supplyRatePerBlock() reverted for %s", marketID)
		observability.RecordRevertedRead("supplyRatePerBlock")
		market.SupplyRatePerBlock = decimal.Zero
	}
	market.SupplyApy = numeric.CompoundToAPY(market.SupplyRatePerBlock, numeric.BlocksPerDay)
	market.BorrowApy = numeric.CompoundToAPY(market.BorrowRatePerBlock, numeric.BlocksPerDay)

	// Step 6: comptroller state. Absence means "not currently listed/capped",
	// not an error.
	comptrollerAddr := common.HexToAddress(market.ComptrollerAddress)
	if raw, ok := r.reader.CollateralFactor(comptrollerAddr, marketAddr, blockNumber); ok {
		market.CollateralFactor = numeric.TokenAmountToDecimal(raw, numeric.MantissaDecimals)
	}
	if raw, ok := r.reader.BorrowCap(comptrollerAddr, marketAddr, blockNumber); ok {
		market.BorrowCap = numeric.TokenAmountToDecimal(raw, market.UnderlyingDecimals)
	}

	// USD variants before the incentive math that depends on them.
	market.TotalSupplyUsd = market.TotalSupply.Mul(market.UsdcPerUnderlying)
	market.TotalBorrowUsd = market.TotalBorrow.Mul(market.UsdcPerUnderlying)
	market.TotalReservesUsd = market.TotalReserves.Mul(market.UsdcPerUnderlying)

	// Step 7: incentive emissions and distribution APY.
	supplySpeed, borrowSpeed := r.oracle.IncentiveSpeeds(comptrollerAddr, marketAddr, blockNumber)
	market.IncentiveSpeedSupply = supplySpeed
	market.IncentiveSpeedBorrow = borrowSpeed

	usdcPerIncentive := r.oracle.IncentivePrice(ctx, blockNumber)
	if usdcPerIncentive.GreaterThan(numeric.PriceSanityCeiling) {
		r.logger.Printf("WARN: incentive price %s above sanity ceiling at block %d, clamping to zero", usdcPerIncentive, blockNumber)
		observability.DefaultMetrics.PriceSanityClamps.Inc()
		usdcPerIncentive = decimal.Zero
	}
	market.UsdcPerIncentive = usdcPerIncentive

	supplyDistApy := numeric.DistributionAPY(market.TotalSupplyUsd, supplySpeed, usdcPerIncentive, numeric.BlocksPerDay)
	borrowDistApy := numeric.DistributionAPY(market.TotalBorrowUsd, borrowSpeed, usdcPerIncentive, numeric.BlocksPerDay)
	market.TotalSupplyApy = market.SupplyApy.Add(supplyDistApy)
	market.TotalBorrowApy = market.BorrowApy.Add(borrowDistApy)

	// Step 8: available liquidity, collateral-factor bounded, cap clamped,
	// floored at zero.
	available := numeric.MaxDecimal(
		decimal.Zero,
		market.TotalSupply.Mul(market.CollateralFactor).Sub(market.TotalBorrow),
	)
	if market.BorrowCap.IsPositive() {
		capHeadroom := numeric.MaxDecimal(decimal.Zero, market.BorrowCap.Sub(market.TotalBorrow))
		available = numeric.MinDecimal(available, capHeadroom)
	}
	market.AvailableLiquidity = available
	market.AvailableLiquidityUsd = available.Mul(market.UsdcPerUnderlying)

	// Step 9: persist.
	if err := r.markets.Upsert(ctx, market); err != nil {
		return fmt.Errorf("persist market %s: %w", marketID, err)
	}
	observability.DefaultMetrics.MarketUpdates.Inc()
	return nil
}

// SetReserveFactor records a reserve-factor change announced by the market.
func (r *MarketReconciler) SetReserveFactor(ctx context.Context, marketAddr common.Address, mantissa decimal.Decimal) error {
	marketID := chain.AddressID(marketAddr)

	market, err := r.markets.Get(ctx, marketID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Printf("WARN: market %s missing in SetReserveFactor", marketID)
			return nil
		}
		return fmt.Errorf("load market %s: %w", marketID, err)
	}

	market.ReserveFactor = mantissa
	if err := r.markets.Upsert(ctx, market); err != nil {
		return fmt.Errorf("persist market %s: %w", marketID, err)
	}
	return nil
}

// resolvePrices fills the market's price fields for this block. A zero token
// price from the oracle means "currently unknown" and flows through as zero
// USD figures rather than an error.
func (r *MarketReconciler) resolvePrices(ctx context.Context, market *domain.Market, marketAddr common.Address, blockNumber int64, usdcPerEth decimal.Decimal) {
	truncate := market.UnderlyingDecimals

	market.UsdcPerEth = usdcPerEth.Truncate(truncate)

	if market.ID == domain.CEthAddress {
		market.EthPerUnderlying = decimal.NewFromInt(1)
		market.UsdcPerUnderlying = usdcPerEth.Truncate(truncate)
		return
	}

	tokenPrice := r.oracle.TokenPrice(
		ctx, blockNumber, marketAddr,
		common.HexToAddress(market.UnderlyingAddress), market.UnderlyingDecimals,
	)

	if blockNumber >= oracle.UsdBaseBlock {
		// USD-based era: the token price is already USD denominated.
		market.EthPerUnderlying = tokenPrice.Div(usdcPerEth).Truncate(truncate)
		// The USDC market only takes the ETH leg; its dollar price is the
		// unit of account and never absorbs oracle readings.
		if market.ID != domain.CUsdcAddress {
			market.UsdcPerUnderlying = tokenPrice.Truncate(truncate)
		}
	} else {
		// ETH-based eras: convert through the USD/ETH rate.
		market.EthPerUnderlying = tokenPrice.Truncate(truncate)
		if market.ID != domain.CUsdcAddress {
			market.UsdcPerUnderlying = tokenPrice.Mul(usdcPerEth).Truncate(truncate)
		}
	}
}
