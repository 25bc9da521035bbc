package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reader exposes the contract state the reconcilers re-derive from. Every
// read is pinned to a block: the same block number must always yield the same
// result. Reads never hang; the boolean result reports whether the call
// succeeded (false means the method is absent or the call reverted, with no
// distinction between the two).
type Reader interface {
	// ERC-20 / cToken descriptors.
	Symbol(contract common.Address, block int64) (string, bool)
	Name(contract common.Address, block int64) (string, bool)
	Decimals(contract common.Address, block int64) (int32, bool)

	// cToken static references.
	Underlying(market common.Address, block int64) (common.Address, bool)
	Comptroller(market common.Address, block int64) (common.Address, bool)

	// cToken money state, raw fixed-point integers.
	TotalSupply(market common.Address, block int64) (*big.Int, bool)
	ExchangeRateStored(market common.Address, block int64) (*big.Int, bool)
	TotalBorrows(market common.Address, block int64) (*big.Int, bool)
	TotalReserves(market common.Address, block int64) (*big.Int, bool)
	GetCash(market common.Address, block int64) (*big.Int, bool)
	SupplyRatePerBlock(market common.Address, block int64) (*big.Int, bool)
	BorrowRatePerBlock(market common.Address, block int64) (*big.Int, bool)

	// Per-user cToken state.
	BalanceOf(market, holder common.Address, block int64) (*big.Int, bool)
	BorrowBalanceCurrent(market, borrower common.Address, block int64) (*big.Int, bool)

	// Comptroller per-market state.
	CollateralFactor(comptroller, market common.Address, block int64) (*big.Int, bool)
	BorrowCap(comptroller, market common.Address, block int64) (*big.Int, bool)

	// Incentive emission speeds. CompSpeed is the single pre-split figure;
	// the supply/borrow pair exists only at or after the split block.
	CompSpeed(comptroller, market common.Address, block int64) (*big.Int, bool)
	CompSupplySpeed(comptroller, market common.Address, block int64) (*big.Int, bool)
	CompBorrowSpeed(comptroller, market common.Address, block int64) (*big.Int, bool)

	// Oracle reads. OraclePrice is the era-A getPrice(token) interface;
	// OracleUnderlyingPrice is the era-B getUnderlyingPrice(market) interface.
	OraclePrice(oracle, token common.Address, block int64) (*big.Int, bool)
	OracleUnderlyingPrice(oracle, market common.Address, block int64) (*big.Int, bool)
}

// Registry receives newly listed market addresses so their events are
// delivered from then on. Registration is fire-and-forget.
type Registry interface {
	RegisterMarket(market common.Address)
}
