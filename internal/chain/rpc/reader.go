package rpc

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"lending-index/internal/chain"
)

// Function selectors, first four bytes of keccak256 of the signature.
var (
	selSymbol               = selector("symbol()")
	selName                 = selector("name()")
	selDecimals             = selector("decimals()")
	selUnderlying           = selector("underlying()")
	selComptroller          = selector("comptroller()")
	selTotalSupply          = selector("totalSupply()")
	selExchangeRateStored   = selector("exchangeRateStored()")
	selTotalBorrows         = selector("totalBorrows()")
	selTotalReserves        = selector("totalReserves()")
	selGetCash              = selector("getCash()")
	selSupplyRatePerBlock   = selector("supplyRatePerBlock()")
	selBorrowRatePerBlock   = selector("borrowRatePerBlock()")
	selBalanceOf            = selector("balanceOf(address)")
	selBorrowBalanceCurrent = selector("borrowBalanceCurrent(address)")
	selMarkets              = selector("markets(address)")
	selBorrowCaps           = selector("borrowCaps(address)")
	selCompSpeeds           = selector("compSpeeds(address)")
	selCompSupplySpeeds     = selector("compSupplySpeeds(address)")
	selCompBorrowSpeeds     = selector("compBorrowSpeeds(address)")
	selGetPrice             = selector("getPrice(address)")
	selGetUnderlyingPrice   = selector("getUnderlyingPrice(address)")
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// Reader implements chain.Reader over eth_call against an archive node.
// A failed or reverted call yields (zero, false); the distinction between
// revert and missing method is not observable through eth_call and the
// reconcilers do not need it.
type Reader struct {
	client      *HTTPClient
	callTimeout time.Duration
	logger      *log.Logger
}

var _ chain.Reader = (*Reader)(nil)

// NewReader creates an archive-node reader.
func NewReader(client *HTTPClient, logger *log.Logger) *Reader {
	if logger == nil {
		logger = log.Default()
	}
	return &Reader{
		client:      client,
		callTimeout: DefaultTimeout,
		logger:      logger,
	}
}

// ethCall performs one pinned call and returns the raw return data.
func (r *Reader) ethCall(contract common.Address, data []byte, block int64) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()

	params := []interface{}{
		map[string]string{
			"to":   contract.Hex(),
			"data": "0x" + hex.EncodeToString(data),
		},
		fmt.Sprintf("0x%x", block),
	}

	var result string
	if err := r.client.call(ctx, "eth_call", params, &result); err != nil {
		if _, reverted := err.(*errExecutionFailed); !reverted {
			r.logger.Printf("WARN: eth_call transport failure for %s at block %d: %v", contract.Hex(), block, err)
		}
		return nil, false
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(result, "0x"))
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	return raw, true
}

func addressArg(sel []byte, addr common.Address) []byte {
	return append(append([]byte(nil), sel...), common.LeftPadBytes(addr.Bytes(), 32)...)
}

// decodeUint256 reads the first return word.
func decodeUint256(raw []byte) (*big.Int, bool) {
	if len(raw) < 32 {
		return nil, false
	}
	return new(big.Int).SetBytes(raw[:32]), true
}

// decodeAddress reads an address from the first return word.
func decodeAddress(raw []byte) (common.Address, bool) {
	if len(raw) < 32 {
		return common.Address{}, false
	}
	return common.BytesToAddress(raw[12:32]), true
}

// decodeString handles both ABI-encoded strings and the bytes32 variant a few
// early tokens use.
func decodeString(raw []byte) (string, bool) {
	if len(raw) == 32 {
		return string(common.TrimRightZeroes(raw)), true
	}
	if len(raw) < 64 {
		return "", false
	}
	offset := new(big.Int).SetBytes(raw[:32]).Uint64()
	if offset+32 > uint64(len(raw)) {
		return "", false
	}
	length := new(big.Int).SetBytes(raw[offset : offset+32]).Uint64()
	if offset+32+length > uint64(len(raw)) {
		return "", false
	}
	return string(raw[offset+32 : offset+32+length]), true
}

func (r *Reader) callUint256(contract common.Address, data []byte, block int64) (*big.Int, bool) {
	raw, ok := r.ethCall(contract, data, block)
	if !ok {
		return nil, false
	}
	return decodeUint256(raw)
}

// Symbol returns the token symbol.
func (r *Reader) Symbol(contract common.Address, block int64) (string, bool) {
	raw, ok := r.ethCall(contract, selSymbol, block)
	if !ok {
		return "", false
	}
	return decodeString(raw)
}

// Name returns the token name.
func (r *Reader) Name(contract common.Address, block int64) (string, bool) {
	raw, ok := r.ethCall(contract, selName, block)
	if !ok {
		return "", false
	}
	return decodeString(raw)
}

// Decimals returns the token decimals.
func (r *Reader) Decimals(contract common.Address, block int64) (int32, bool) {
	n, ok := r.callUint256(contract, selDecimals, block)
	if !ok {
		return 0, false
	}
	return int32(n.Int64()), true
}

// Underlying returns the market's underlying token address.
func (r *Reader) Underlying(market common.Address, block int64) (common.Address, bool) {
	raw, ok := r.ethCall(market, selUnderlying, block)
	if !ok {
		return common.Address{}, false
	}
	return decodeAddress(raw)
}

// Comptroller returns the market's comptroller address.
func (r *Reader) Comptroller(market common.Address, block int64) (common.Address, bool) {
	raw, ok := r.ethCall(market, selComptroller, block)
	if !ok {
		return common.Address{}, false
	}
	return decodeAddress(raw)
}

// TotalSupply returns the raw cToken supply.
func (r *Reader) TotalSupply(market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(market, selTotalSupply, block)
}

// ExchangeRateStored returns the raw exchange-rate mantissa.
func (r *Reader) ExchangeRateStored(market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(market, selExchangeRateStored, block)
}

// TotalBorrows returns the raw outstanding borrows.
func (r *Reader) TotalBorrows(market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(market, selTotalBorrows, block)
}

// TotalReserves returns the raw reserves.
func (r *Reader) TotalReserves(market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(market, selTotalReserves, block)
}

// GetCash returns the raw underlying balance held by the market.
func (r *Reader) GetCash(market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(market, selGetCash, block)
}

// SupplyRatePerBlock returns the raw per-block supply rate.
func (r *Reader) SupplyRatePerBlock(market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(market, selSupplyRatePerBlock, block)
}

// BorrowRatePerBlock returns the raw per-block borrow rate.
func (r *Reader) BorrowRatePerBlock(market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(market, selBorrowRatePerBlock, block)
}

// BalanceOf returns the holder's raw cToken balance.
func (r *Reader) BalanceOf(market, holder common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(market, addressArg(selBalanceOf, holder), block)
}

// BorrowBalanceCurrent returns the borrower's raw borrow balance including
// accrued interest.
func (r *Reader) BorrowBalanceCurrent(market, borrower common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(market, addressArg(selBorrowBalanceCurrent, borrower), block)
}

// CollateralFactor returns the raw collateral-factor mantissa, the second
// word of the comptroller's markets(address) tuple.
func (r *Reader) CollateralFactor(comptroller, market common.Address, block int64) (*big.Int, bool) {
	raw, ok := r.ethCall(comptroller, addressArg(selMarkets, market), block)
	if !ok || len(raw) < 64 {
		return nil, false
	}
	return new(big.Int).SetBytes(raw[32:64]), true
}

// BorrowCap returns the raw borrow cap; zero means uncapped.
func (r *Reader) BorrowCap(comptroller, market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(comptroller, addressArg(selBorrowCaps, market), block)
}

// CompSpeed returns the single pre-split incentive speed.
func (r *Reader) CompSpeed(comptroller, market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(comptroller, addressArg(selCompSpeeds, market), block)
}

// CompSupplySpeed returns the supply-side incentive speed.
func (r *Reader) CompSupplySpeed(comptroller, market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(comptroller, addressArg(selCompSupplySpeeds, market), block)
}

// CompBorrowSpeed returns the borrow-side incentive speed.
func (r *Reader) CompBorrowSpeed(comptroller, market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(comptroller, addressArg(selCompBorrowSpeeds, market), block)
}

// OraclePrice calls the era-A getPrice(token) interface.
func (r *Reader) OraclePrice(oracle, token common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(oracle, addressArg(selGetPrice, token), block)
}

// OracleUnderlyingPrice calls the era-B getUnderlyingPrice(market) interface.
func (r *Reader) OracleUnderlyingPrice(oracle, market common.Address, block int64) (*big.Int, bool) {
	return r.callUint256(oracle, addressArg(selGetUnderlyingPrice, market), block)
}
