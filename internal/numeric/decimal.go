// Package numeric provides the fixed-point conversion and rate math shared by
// the reconcilers. All computation uses decimal arithmetic; floating point
// would drift across the exponent ranges produced by decimals-difference math.
package numeric

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// BlocksPerDay for pre-merge Ethereum (~15s blocks, 2102400 blocks/year).
var BlocksPerDay = decimal.NewFromInt(5760)

// DaysPerYear iterations for APY compounding.
const DaysPerYear = 365

// MantissaDecimals is the protocol's canonical fixed-point scale.
const MantissaDecimals = 18

// PriceSanityCeiling is the largest USD price accepted from the oracle.
// Prices above it are treated as a glitch and the dependent incentive APY
// contribution is zeroed.
var PriceSanityCeiling = decimal.NewFromInt(1_000_000)

var (
	one = decimal.NewFromInt(1)
	ten = decimal.NewFromInt(10)
)

// ScaleFactor returns 10^decimals as an exact decimal, built by iterative
// multiplication rather than a pow primitive.
func ScaleFactor(decimals int32) decimal.Decimal {
	factor := one
	for i := int32(0); i < decimals; i++ {
		factor = factor.Mul(ten)
	}
	return factor
}

// TokenAmountToDecimal converts a raw on-chain integer amount to its decimal
// representation. The decimals==0 case returns the amount unscaled.
func TokenAmountToDecimal(raw *big.Int, decimals int32) decimal.Decimal {
	amount := decimal.NewFromBigInt(raw, 0)
	if decimals == 0 {
		return amount
	}
	return amount.Div(ScaleFactor(decimals))
}

// CompoundToAPY converts a per-block interest rate to an annualized yield:
// (1 + ratePerBlock*blocksPerDay)^365 - 1, compounded by repeated
// multiplication so the result matches fixed-precision decimal semantics.
func CompoundToAPY(ratePerBlock, blocksPerDay decimal.Decimal) decimal.Decimal {
	base := ratePerBlock.Mul(blocksPerDay).Add(one)

	apy := one
	for i := 0; i < DaysPerYear; i++ {
		apy = apy.Mul(base)
	}
	return apy.Sub(one)
}

// DistributionAPY converts a per-block incentive token emission rate into an
// annualized yield over the given USD principal. A zero principal means no
// incentive yield is representable and yields zero. A price above the sanity
// ceiling zeroes the contribution instead of propagating a corrupted value.
func DistributionAPY(principalUsd, speedPerBlock, usdcPerIncentive, blocksPerDay decimal.Decimal) decimal.Decimal {
	if principalUsd.IsZero() {
		return decimal.Zero
	}
	if usdcPerIncentive.GreaterThan(PriceSanityCeiling) {
		return decimal.Zero
	}

	perDayUsd := speedPerBlock.Mul(blocksPerDay).Mul(usdcPerIncentive)
	base := one.Add(perDayUsd.Div(principalUsd))

	apy := one
	for i := 0; i < DaysPerYear; i++ {
		apy = apy.Mul(base)
	}
	return apy.Sub(one)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
