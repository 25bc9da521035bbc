// Package stub provides an in-memory chain.Reader and chain.Registry for
// tests and replays. State is set per contract; any value that has not been
// set behaves like a reverted call.
package stub

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lending-index/internal/chain"
)

// TokenState holds ERC-20 descriptor reads for one contract.
type TokenState struct {
	Symbol   string
	Name     string
	Decimals int32

	HasSymbol   bool
	HasName     bool
	HasDecimals bool
}

// MarketState holds cToken reads for one market contract.
type MarketState struct {
	Underlying  common.Address
	Comptroller common.Address

	HasUnderlying  bool
	HasComptroller bool

	TotalSupply        *big.Int
	ExchangeRateStored *big.Int
	TotalBorrows       *big.Int
	TotalReserves      *big.Int
	Cash               *big.Int
	SupplyRatePerBlock *big.Int
	BorrowRatePerBlock *big.Int

	Balances       map[common.Address]*big.Int
	BorrowBalances map[common.Address]*big.Int
}

// ComptrollerState holds per-market comptroller reads.
type ComptrollerState struct {
	CollateralFactors map[common.Address]*big.Int
	BorrowCaps        map[common.Address]*big.Int
	CompSpeeds        map[common.Address]*big.Int
	CompSupplySpeeds  map[common.Address]*big.Int
	CompBorrowSpeeds  map[common.Address]*big.Int
}

// OracleState holds oracle reads for one oracle contract.
type OracleState struct {
	// Prices is the era-A getPrice(token) surface.
	Prices map[common.Address]*big.Int
	// UnderlyingPrices is the era-B getUnderlyingPrice(market) surface.
	UnderlyingPrices map[common.Address]*big.Int
}

// Reader implements chain.Reader backed by explicit per-contract state.
type Reader struct {
	Tokens       map[common.Address]*TokenState
	Markets      map[common.Address]*MarketState
	Comptrollers map[common.Address]*ComptrollerState
	Oracles      map[common.Address]*OracleState

	// Registered records RegisterMarket calls in order.
	Registered []common.Address
}

// NewReader creates an empty stub reader.
func NewReader() *Reader {
	return &Reader{
		Tokens:       make(map[common.Address]*TokenState),
		Markets:      make(map[common.Address]*MarketState),
		Comptrollers: make(map[common.Address]*ComptrollerState),
		Oracles:      make(map[common.Address]*OracleState),
	}
}

// Token returns (creating if needed) the token state for a contract.
func (r *Reader) Token(addr common.Address) *TokenState {
	t, ok := r.Tokens[addr]
	if !ok {
		t = &TokenState{}
		r.Tokens[addr] = t
	}
	return t
}

// SetToken sets all three descriptor reads at once.
func (r *Reader) SetToken(addr common.Address, symbol, name string, decimals int32) {
	r.Tokens[addr] = &TokenState{
		Symbol: symbol, Name: name, Decimals: decimals,
		HasSymbol: true, HasName: true, HasDecimals: true,
	}
}

// Market returns (creating if needed) the market state for a contract.
func (r *Reader) Market(addr common.Address) *MarketState {
	m, ok := r.Markets[addr]
	if !ok {
		m = &MarketState{
			Balances:       make(map[common.Address]*big.Int),
			BorrowBalances: make(map[common.Address]*big.Int),
		}
		r.Markets[addr] = m
	}
	return m
}

// ComptrollerState returns (creating if needed) comptroller state.
func (r *Reader) ComptrollerState(addr common.Address) *ComptrollerState {
	c, ok := r.Comptrollers[addr]
	if !ok {
		c = &ComptrollerState{
			CollateralFactors: make(map[common.Address]*big.Int),
			BorrowCaps:        make(map[common.Address]*big.Int),
			CompSpeeds:        make(map[common.Address]*big.Int),
			CompSupplySpeeds:  make(map[common.Address]*big.Int),
			CompBorrowSpeeds:  make(map[common.Address]*big.Int),
		}
		r.Comptrollers[addr] = c
	}
	return c
}

// Oracle returns (creating if needed) oracle state.
func (r *Reader) Oracle(addr common.Address) *OracleState {
	o, ok := r.Oracles[addr]
	if !ok {
		o = &OracleState{
			Prices:           make(map[common.Address]*big.Int),
			UnderlyingPrices: make(map[common.Address]*big.Int),
		}
		r.Oracles[addr] = o
	}
	return o
}

func (r *Reader) Symbol(contract common.Address, _ int64) (string, bool) {
	t, ok := r.Tokens[contract]
	if !ok || !t.HasSymbol {
		return "", false
	}
	return t.Symbol, true
}

func (r *Reader) Name(contract common.Address, _ int64) (string, bool) {
	t, ok := r.Tokens[contract]
	if !ok || !t.HasName {
		return "", false
	}
	return t.Name, true
}

func (r *Reader) Decimals(contract common.Address, _ int64) (int32, bool) {
	t, ok := r.Tokens[contract]
	if !ok || !t.HasDecimals {
		return 0, false
	}
	return t.Decimals, true
}

func (r *Reader) Underlying(market common.Address, _ int64) (common.Address, bool) {
	m, ok := r.Markets[market]
	if !ok || !m.HasUnderlying {
		return common.Address{}, false
	}
	return m.Underlying, true
}

func (r *Reader) Comptroller(market common.Address, _ int64) (common.Address, bool) {
	m, ok := r.Markets[market]
	if !ok || !m.HasComptroller {
		return common.Address{}, false
	}
	return m.Comptroller, true
}

func (r *Reader) TotalSupply(market common.Address, _ int64) (*big.Int, bool) {
	return marketRead(r, market, func(m *MarketState) *big.Int { return m.TotalSupply })
}

func (r *Reader) ExchangeRateStored(market common.Address, _ int64) (*big.Int, bool) {
	return marketRead(r, market, func(m *MarketState) *big.Int { return m.ExchangeRateStored })
}

func (r *Reader) TotalBorrows(market common.Address, _ int64) (*big.Int, bool) {
	return marketRead(r, market, func(m *MarketState) *big.Int { return m.TotalBorrows })
}

func (r *Reader) TotalReserves(market common.Address, _ int64) (*big.Int, bool) {
	return marketRead(r, market, func(m *MarketState) *big.Int { return m.TotalReserves })
}

func (r *Reader) GetCash(market common.Address, _ int64) (*big.Int, bool) {
	return marketRead(r, market, func(m *MarketState) *big.Int { return m.Cash })
}

func (r *Reader) SupplyRatePerBlock(market common.Address, _ int64) (*big.Int, bool) {
	return marketRead(r, market, func(m *MarketState) *big.Int { return m.SupplyRatePerBlock })
}

func (r *Reader) BorrowRatePerBlock(market common.Address, _ int64) (*big.Int, bool) {
	return marketRead(r, market, func(m *MarketState) *big.Int { return m.BorrowRatePerBlock })
}

func (r *Reader) BalanceOf(market, holder common.Address, _ int64) (*big.Int, bool) {
	m, ok := r.Markets[market]
	if !ok {
		return nil, false
	}
	v, ok := m.Balances[holder]
	return v, ok
}

func (r *Reader) BorrowBalanceCurrent(market, borrower common.Address, _ int64) (*big.Int, bool) {
	m, ok := r.Markets[market]
	if !ok {
		return nil, false
	}
	v, ok := m.BorrowBalances[borrower]
	return v, ok
}

func (r *Reader) CollateralFactor(comptroller, market common.Address, _ int64) (*big.Int, bool) {
	return comptrollerRead(r, comptroller, market, func(c *ComptrollerState) map[common.Address]*big.Int { return c.CollateralFactors })
}

func (r *Reader) BorrowCap(comptroller, market common.Address, _ int64) (*big.Int, bool) {
	return comptrollerRead(r, comptroller, market, func(c *ComptrollerState) map[common.Address]*big.Int { return c.BorrowCaps })
}

func (r *Reader) CompSpeed(comptroller, market common.Address, _ int64) (*big.Int, bool) {
	return comptrollerRead(r, comptroller, market, func(c *ComptrollerState) map[common.Address]*big.Int { return c.CompSpeeds })
}

func (r *Reader) CompSupplySpeed(comptroller, market common.Address, _ int64) (*big.Int, bool) {
	return comptrollerRead(r, comptroller, market, func(c *ComptrollerState) map[common.Address]*big.Int { return c.CompSupplySpeeds })
}

func (r *Reader) CompBorrowSpeed(comptroller, market common.Address, _ int64) (*big.Int, bool) {
	return comptrollerRead(r, comptroller, market, func(c *ComptrollerState) map[common.Address]*big.Int { return c.CompBorrowSpeeds })
}

func (r *Reader) OraclePrice(oracle, token common.Address, _ int64) (*big.Int, bool) {
	o, ok := r.Oracles[oracle]
	if !ok {
		return nil, false
	}
	v, ok := o.Prices[token]
	return v, ok
}

func (r *Reader) OracleUnderlyingPrice(oracle, market common.Address, _ int64) (*big.Int, bool) {
	o, ok := r.Oracles[oracle]
	if !ok {
		return nil, false
	}
	v, ok := o.UnderlyingPrices[market]
	return v, ok
}

// RegisterMarket implements chain.Registry.
func (r *Reader) RegisterMarket(market common.Address) {
	r.Registered = append(r.Registered, market)
}

func marketRead(r *Reader, market common.Address, field func(*MarketState) *big.Int) (*big.Int, bool) {
	m, ok := r.Markets[market]
	if !ok {
		return nil, false
	}
	v := field(m)
	if v == nil {
		return nil, false
	}
	return v, true
}

func comptrollerRead(r *Reader, comptroller, market common.Address, field func(*ComptrollerState) map[common.Address]*big.Int) (*big.Int, bool) {
	c, ok := r.Comptrollers[comptroller]
	if !ok {
		return nil, false
	}
	v, ok := field(c)[market]
	return v, ok
}

// Compile-time interface checks.
var (
	_ chain.Reader   = (*Reader)(nil)
	_ chain.Registry = (*Reader)(nil)
)
