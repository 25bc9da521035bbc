package postgres

import (
	"context"
	"fmt"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

// MarketStore implements storage.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *Pool
}

// NewMarketStore creates a new MarketStore.
func NewMarketStore(pool *Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MarketStore = (*MarketStore)(nil)

const marketColumns = `
	id, underlying_address, underlying_symbol, underlying_name, underlying_decimals,
	ctoken_symbol, ctoken_decimals, comptroller_address,
	creation_block_number, latest_block_number,
	collateral_factor, reserve_factor, borrow_cap,
	cash, exchange_rate,
	supply_rate_per_block, borrow_rate_per_block,
	supply_apy, borrow_apy, total_supply_apy, total_borrow_apy,
	total_supply, total_borrow, total_reserves,
	total_supply_usd, total_borrow_usd, total_reserves_usd,
	utilization, available_liquidity, available_liquidity_usd,
	usdc_per_underlying, eth_per_underlying, usdc_per_eth, usdc_per_incentive,
	incentive_speed_supply, incentive_speed_borrow
`

// Upsert writes the full market row.
func (s *MarketStore) Upsert(ctx context.Context, m *domain.Market) error {
	if m == nil || m.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO markets (` + marketColumns + `)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36
		)
		ON CONFLICT (id) DO UPDATE SET
			underlying_address = EXCLUDED.underlying_address,
			underlying_symbol = EXCLUDED.underlying_symbol,
			underlying_name = EXCLUDED.underlying_name,
			underlying_decimals = EXCLUDED.underlying_decimals,
			ctoken_symbol = EXCLUDED.ctoken_symbol,
			ctoken_decimals = EXCLUDED.ctoken_decimals,
			comptroller_address = EXCLUDED.comptroller_address,
			creation_block_number = EXCLUDED.creation_block_number,
			latest_block_number = EXCLUDED.latest_block_number,
			collateral_factor = EXCLUDED.collateral_factor,
			reserve_factor = EXCLUDED.reserve_factor,
			borrow_cap = EXCLUDED.borrow_cap,
			cash = EXCLUDED.cash,
			exchange_rate = EXCLUDED.exchange_rate,
			supply_rate_per_block = EXCLUDED.supply_rate_per_block,
			borrow_rate_per_block = EXCLUDED.borrow_rate_per_block,
			supply_apy = EXCLUDED.supply_apy,
			borrow_apy = EXCLUDED.borrow_apy,
			total_supply_apy = EXCLUDED.total_supply_apy,
			total_borrow_apy = EXCLUDED.total_borrow_apy,
			total_supply = EXCLUDED.total_supply,
			total_borrow = EXCLUDED.total_borrow,
			total_reserves = EXCLUDED.total_reserves,
			total_supply_usd = EXCLUDED.total_supply_usd,
			total_borrow_usd = EXCLUDED.total_borrow_usd,
			total_reserves_usd = EXCLUDED.total_reserves_usd,
			utilization = EXCLUDED.utilization,
			available_liquidity = EXCLUDED.available_liquidity,
			available_liquidity_usd = EXCLUDED.available_liquidity_usd,
			usdc_per_underlying = EXCLUDED.usdc_per_underlying,
			eth_per_underlying = EXCLUDED.eth_per_underlying,
			usdc_per_eth = EXCLUDED.usdc_per_eth,
			usdc_per_incentive = EXCLUDED.usdc_per_incentive,
			incentive_speed_supply = EXCLUDED.incentive_speed_supply,
			incentive_speed_borrow = EXCLUDED.incentive_speed_borrow
	`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.UnderlyingAddress, m.UnderlyingSymbol, m.UnderlyingName, m.UnderlyingDecimals,
		m.CTokenSymbol, m.CTokenDecimals, m.ComptrollerAddress,
		m.CreationBlockNumber, m.LatestBlockNumber,
		m.CollateralFactor, m.ReserveFactor, m.BorrowCap,
		m.Cash, m.ExchangeRate,
		m.SupplyRatePerBlock, m.BorrowRatePerBlock,
		m.SupplyApy, m.BorrowApy, m.TotalSupplyApy, m.TotalBorrowApy,
		m.TotalSupply, m.TotalBorrow, m.TotalReserves,
		m.TotalSupplyUsd, m.TotalBorrowUsd, m.TotalReservesUsd,
		m.Utilization, m.AvailableLiquidity, m.AvailableLiquidityUsd,
		m.UsdcPerUnderlying, m.EthPerUnderlying, m.UsdcPerEth, m.UsdcPerIncentive,
		m.IncentiveSpeedSupply, m.IncentiveSpeedBorrow,
	)
	if err != nil {
		return fmt.Errorf("upsert market: %w", err)
	}
	return nil
}

// Get retrieves a market by id. Returns ErrNotFound if not exists.
func (s *MarketStore) Get(ctx context.Context, marketID string) (*domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE id = $1`

	var m domain.Market
	err := s.pool.QueryRow(ctx, query, marketID).Scan(
		&m.ID, &m.UnderlyingAddress, &m.UnderlyingSymbol, &m.UnderlyingName, &m.UnderlyingDecimals,
		&m.CTokenSymbol, &m.CTokenDecimals, &m.ComptrollerAddress,
		&m.CreationBlockNumber, &m.LatestBlockNumber,
		&m.CollateralFactor, &m.ReserveFactor, &m.BorrowCap,
		&m.Cash, &m.ExchangeRate,
		&m.SupplyRatePerBlock, &m.BorrowRatePerBlock,
		&m.SupplyApy, &m.BorrowApy, &m.TotalSupplyApy, &m.TotalBorrowApy,
		&m.TotalSupply, &m.TotalBorrow, &m.TotalReserves,
		&m.TotalSupplyUsd, &m.TotalBorrowUsd, &m.TotalReservesUsd,
		&m.Utilization, &m.AvailableLiquidity, &m.AvailableLiquidityUsd,
		&m.UsdcPerUnderlying, &m.EthPerUnderlying, &m.UsdcPerEth, &m.UsdcPerIncentive,
		&m.IncentiveSpeedSupply, &m.IncentiveSpeedBorrow,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market by id: %w", err)
	}
	return &m, nil
}
