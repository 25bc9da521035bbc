// Package oracle resolves underlying-asset prices across the protocol's
// oracle eras. The era boundaries are block numbers, not contract state: the
// oracle interface changed twice on mainnet, and historical replays must pick
// the right interface and scale for the block being processed.
package oracle

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"lending-index/internal/chain"
	"lending-index/internal/domain"
	"lending-index/internal/numeric"
	"lending-index/internal/storage"
)

// Era boundaries, mainnet block numbers.
const (
	// OracleOneToTwoBlock is where the comptroller switched from the global
	// getPrice(token) oracle to getUnderlyingPrice(market).
	OracleOneToTwoBlock = 7715908

	// UsdBaseBlock is where getUnderlyingPrice switched from an ETH base to
	// a USD base.
	UsdBaseBlock = 10678764

	// SpeedSplitBlock is where the single per-market comp speed split into
	// independent supply-side and borrow-side speeds.
	SpeedSplitBlock = 13322798
)

// priceOracleOneAddress is the era-A global oracle. It predates the protocol
// storing its own oracle reference.
var priceOracleOneAddress = common.HexToAddress("0x02557a5e05defeffd4cae6d83ea3d173b272c904")

var (
	usdcAddress  = common.HexToAddress(domain.UsdcAddress)
	cUsdcAddress = common.HexToAddress(domain.CUsdcAddress)
	cEthAddress  = common.HexToAddress(domain.CEthAddress)
	cCompAddress = common.HexToAddress(domain.CCompAddress)
)

// Resolver answers price questions for a given block, using the oracle
// interface that was live at that block. Every answer is fallible: a reverted
// read yields decimal zero, and callers must treat zero as "unknown".
type Resolver struct {
	reader    chain.Reader
	protocols storage.ProtocolStore
	logger    *log.Logger
}

// NewResolver creates a price resolver.
func NewResolver(reader chain.Reader, protocols storage.ProtocolStore, logger *log.Logger) *Resolver {
	return &Resolver{reader: reader, protocols: protocols, logger: logger}
}

// eraPolicy is one row of the oracle regime table. tokenPrice returns the
// underlying price in the era's base (ETH before UsdBaseBlock, USD after).
type eraPolicy struct {
	name    string
	applies func(block int64) bool

	tokenPrice func(r *Resolver, oracle common.Address, block int64, market, underlying common.Address, underlyingDecimals int32) decimal.Decimal
}

// eras is checked in order; the first matching policy wins.
var eras = []eraPolicy{
	{
		name:    "oracle1-eth-base",
		applies: func(block int64) bool { return block <= OracleOneToTwoBlock },
		tokenPrice: func(r *Resolver, _ common.Address, block int64, _, underlying common.Address, _ int32) decimal.Decimal {
			// getPrice returns wei per token, already factoring token
			// decimals, so only the 1e18 mantissa is removed.
			raw, ok := r.reader.OraclePrice(priceOracleOneAddress, underlying, block)
			if !ok {
				return decimal.Zero
			}
			return numeric.TokenAmountToDecimal(raw, numeric.MantissaDecimals)
		},
	},
	{
		name:    "oracle2",
		applies: func(block int64) bool { return block > OracleOneToTwoBlock },
		tokenPrice: func(r *Resolver, oracle common.Address, block int64, market, _ common.Address, underlyingDecimals int32) decimal.Decimal {
			// getUnderlyingPrice returns the value without factoring token
			// decimals or wei: scale by 10^(36 - underlyingDecimals).
			raw, ok := r.reader.OracleUnderlyingPrice(oracle, market, block)
			if !ok {
				return decimal.Zero
			}
			return numeric.TokenAmountToDecimal(raw, 36-underlyingDecimals)
		},
	},
}

// TokenPrice resolves the underlying price of a market in the era's base:
// ETH before UsdBaseBlock, USD at and after. Zero means unknown.
func (r *Resolver) TokenPrice(ctx context.Context, block int64, market, underlying common.Address, underlyingDecimals int32) decimal.Decimal {
	oracleAddr, ok := r.oracleAddress(ctx)
	if !ok {
		return decimal.Zero
	}

	for _, era := range eras {
		if era.applies(block) {
			return era.tokenPrice(r, oracleAddr, block, market, underlying, underlyingDecimals)
		}
	}
	return decimal.Zero
}

// UsdcPriceInEth returns the price of USDC denominated in ETH, e.g. 0.005
// when ETH is $200. Zero means unknown.
func (r *Resolver) UsdcPriceInEth(ctx context.Context, block int64) decimal.Decimal {
	if block <= OracleOneToTwoBlock {
		raw, ok := r.reader.OraclePrice(priceOracleOneAddress, usdcAddress, block)
		if !ok {
			return decimal.Zero
		}
		return numeric.TokenAmountToDecimal(raw, numeric.MantissaDecimals)
	}

	oracleAddr, ok := r.oracleAddress(ctx)
	if !ok {
		return decimal.Zero
	}
	raw, ok := r.reader.OracleUnderlyingPrice(oracleAddr, cUsdcAddress, block)
	if !ok {
		return decimal.Zero
	}
	// USDC has 6 decimals: 10^((18-6)+18) = 10^30.
	return numeric.TokenAmountToDecimal(raw, 30)
}

// EthPriceInUsd returns the USD price of ETH. Only meaningful at or after
// UsdBaseBlock; earlier blocks log a warning and return zero.
func (r *Resolver) EthPriceInUsd(ctx context.Context, block int64) decimal.Decimal {
	if block < UsdBaseBlock {
		r.logger.Printf("WARN: EthPriceInUsd called before block %d", UsdBaseBlock)
		return decimal.Zero
	}

	oracleAddr, ok := r.oracleAddress(ctx)
	if !ok {
		return decimal.Zero
	}
	raw, ok := r.reader.OracleUnderlyingPrice(oracleAddr, cEthAddress, block)
	if !ok {
		return decimal.Zero
	}
	return numeric.TokenAmountToDecimal(raw, numeric.MantissaDecimals)
}

// IncentivePrice returns the USD price of the incentive token, resolved
// through the incentive token's own market. The read reverts until that
// market is listed; until then the price is unknown (zero) and incentive APY
// contributions stay zero.
func (r *Resolver) IncentivePrice(ctx context.Context, block int64) decimal.Decimal {
	// COMP has 18 decimals like ETH.
	price := r.TokenPrice(ctx, block, cCompAddress, common.HexToAddress(domain.CompAddress), 18)
	if price.IsZero() {
		return decimal.Zero
	}

	if block >= UsdBaseBlock {
		return price
	}

	// Pre-USD-base the token price is ETH denominated; convert.
	usdcPerEth := r.UsdcPerEth(ctx, block)
	return price.Mul(usdcPerEth)
}

// UsdcPerEth returns USD per 1 ETH for any era, deriving it from the
// USDC-in-ETH rate before the USD-base switch. Zero means unknown.
func (r *Resolver) UsdcPerEth(ctx context.Context, block int64) decimal.Decimal {
	if block >= UsdBaseBlock {
		return r.EthPriceInUsd(ctx, block)
	}
	usdPriceInEth := r.UsdcPriceInEth(ctx, block)
	if usdPriceInEth.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).Div(usdPriceInEth)
}

// IncentiveSpeeds returns the supply-side and borrow-side incentive token
// emission rates (tokens per block, decimal form). Before the split block a
// single speed applies to both sides. Each read is fallible; failure yields
// zero for that side.
func (r *Resolver) IncentiveSpeeds(comptroller, market common.Address, block int64) (supply, borrow decimal.Decimal) {
	if block < SpeedSplitBlock {
		raw, ok := r.reader.CompSpeed(comptroller, market, block)
		if !ok {
			return decimal.Zero, decimal.Zero
		}
		speed := numeric.TokenAmountToDecimal(raw, numeric.MantissaDecimals)
		return speed, speed
	}

	supply = decimal.Zero
	borrow = decimal.Zero
	if raw, ok := r.reader.CompSupplySpeed(comptroller, market, block); ok {
		supply = numeric.TokenAmountToDecimal(raw, numeric.MantissaDecimals)
	}
	if raw, ok := r.reader.CompBorrowSpeed(comptroller, market, block); ok {
		borrow = numeric.TokenAmountToDecimal(raw, numeric.MantissaDecimals)
	}
	return supply, borrow
}

// DefaultOracleAddress returns the oracle address a lazily created protocol
// row should carry for the given block.
func DefaultOracleAddress(block int64) string {
	if block <= OracleOneToTwoBlock {
		return chain.AddressID(priceOracleOneAddress)
	}
	// Oracle 2 as deployed at the switch; replaced via NewPriceOracle events.
	return "0x6d2299c48a8dd07a872fdd0f8233924872ad1071"
}

// oracleAddress loads the protocol's current oracle reference.
func (r *Resolver) oracleAddress(ctx context.Context) (common.Address, bool) {
	protocol, err := r.protocols.Get(ctx)
	if err != nil {
		r.logger.Printf("WARN: protocol missing while resolving oracle address: %v", err)
		return common.Address{}, false
	}
	return common.HexToAddress(protocol.PriceOracleAddress), true
}
