package domain

import "github.com/shopspring/decimal"

// Market is the aggregate snapshot of one lending pool, keyed by the cToken
// contract address (lowercase hex). Static descriptors are filled once at
// creation; every other field is recomputed from live contract state, at most
// once per block.
type Market struct {
	ID string // cToken contract address, lowercase hex

	// Static descriptors.
	UnderlyingAddress  string
	UnderlyingSymbol   string
	UnderlyingName     string
	UnderlyingDecimals int32
	CTokenSymbol       string
	CTokenDecimals     int32
	ComptrollerAddress string

	CreationBlockNumber int64
	// LatestBlockNumber gates updates to at most one per block.
	LatestBlockNumber int64

	CollateralFactor decimal.Decimal
	ReserveFactor    decimal.Decimal
	BorrowCap        decimal.Decimal

	Cash decimal.Decimal
	// ExchangeRate is underlying per cToken.
	ExchangeRate decimal.Decimal

	SupplyRatePerBlock decimal.Decimal
	BorrowRatePerBlock decimal.Decimal
	SupplyApy          decimal.Decimal
	BorrowApy          decimal.Decimal
	// TotalSupplyApy and TotalBorrowApy include the incentive distribution APY.
	TotalSupplyApy decimal.Decimal
	TotalBorrowApy decimal.Decimal

	TotalSupply      decimal.Decimal
	TotalBorrow      decimal.Decimal
	TotalReserves    decimal.Decimal
	TotalSupplyUsd   decimal.Decimal
	TotalBorrowUsd   decimal.Decimal
	TotalReservesUsd decimal.Decimal

	// Utilization is totalBorrow/totalSupply, zero when totalSupply is zero.
	Utilization decimal.Decimal

	// AvailableLiquidity is collateral-factor bounded, borrow-cap clamped and
	// floored at zero.
	AvailableLiquidity    decimal.Decimal
	AvailableLiquidityUsd decimal.Decimal

	UsdcPerUnderlying decimal.Decimal
	EthPerUnderlying  decimal.Decimal
	UsdcPerEth        decimal.Decimal
	UsdcPerIncentive  decimal.Decimal

	IncentiveSpeedSupply decimal.Decimal
	IncentiveSpeedBorrow decimal.Decimal
}

// NewMarket returns a market with all dynamic fields zeroed.
func NewMarket(id string, blockNumber int64) *Market {
	zero := decimal.Zero
	return &Market{
		ID:                    id,
		CreationBlockNumber:   blockNumber,
		LatestBlockNumber:     blockNumber,
		CollateralFactor:      zero,
		ReserveFactor:         zero,
		BorrowCap:             zero,
		Cash:                  zero,
		ExchangeRate:          zero,
		SupplyRatePerBlock:    zero,
		BorrowRatePerBlock:    zero,
		SupplyApy:             zero,
		BorrowApy:             zero,
		TotalSupplyApy:        zero,
		TotalBorrowApy:        zero,
		TotalSupply:           zero,
		TotalBorrow:           zero,
		TotalReserves:         zero,
		TotalSupplyUsd:        zero,
		TotalBorrowUsd:        zero,
		TotalReservesUsd:      zero,
		Utilization:           zero,
		AvailableLiquidity:    zero,
		AvailableLiquidityUsd: zero,
		UsdcPerUnderlying:     zero,
		EthPerUnderlying:      zero,
		UsdcPerEth:            zero,
		UsdcPerIncentive:      zero,
		IncentiveSpeedSupply:  zero,
		IncentiveSpeedBorrow:  zero,
	}
}
