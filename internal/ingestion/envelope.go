package ingestion

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lending-index/internal/chain"
)

// eventEnvelope is the wire form of one decoded chain event as the feed
// service delivers it. ABI decoding already happened upstream; only the
// fields for the envelope's type are set. Integer amounts travel as decimal
// strings because they exceed 64 bits.
type eventEnvelope struct {
	Type        string `json:"type"`
	Contract    string `json:"contract"`
	BlockNumber int64  `json:"blockNumber"`
	Timestamp   int64  `json:"timestamp"`
	TxHash      string `json:"txHash"`
	LogIndex    uint   `json:"logIndex"`

	CToken           string `json:"cToken,omitempty"`
	Account          string `json:"account,omitempty"`
	NewOracle        string `json:"newOracle,omitempty"`
	Minter           string `json:"minter,omitempty"`
	Redeemer         string `json:"redeemer,omitempty"`
	Borrower         string `json:"borrower,omitempty"`
	Payer            string `json:"payer,omitempty"`
	Liquidator       string `json:"liquidator,omitempty"`
	CTokenCollateral string `json:"cTokenCollateral,omitempty"`
	From             string `json:"from,omitempty"`
	To               string `json:"to,omitempty"`
	Owner            string `json:"owner,omitempty"`
	Spender          string `json:"spender,omitempty"`

	Amount       string `json:"amount,omitempty"`
	MintAmount   string `json:"mintAmount,omitempty"`
	MintTokens   string `json:"mintTokens,omitempty"`
	RedeemAmount string `json:"redeemAmount,omitempty"`
	RedeemTokens string `json:"redeemTokens,omitempty"`
	BorrowAmount string `json:"borrowAmount,omitempty"`
	RepayAmount  string `json:"repayAmount,omitempty"`
	SeizeTokens  string `json:"seizeTokens,omitempty"`
	Mantissa     string `json:"mantissa,omitempty"`

	LegacyABI bool `json:"legacyAbi,omitempty"`
}

// Envelope type tags.
const (
	envMarketListed     = "marketListed"
	envNewPriceOracle   = "newPriceOracle"
	envMarketEntered    = "marketEntered"
	envMarketExited     = "marketExited"
	envAccrueInterest   = "accrueInterest"
	envMint             = "mint"
	envRedeem           = "redeem"
	envBorrow           = "borrow"
	envRepayBorrow      = "repayBorrow"
	envLiquidateBorrow  = "liquidateBorrow"
	envTransfer         = "transfer"
	envApproval         = "approval"
	envNewReserveFactor = "newReserveFactor"
)

// decodeEnvelope turns a wire envelope into a typed event.
func decodeEnvelope(env *eventEnvelope) (chain.Event, error) {
	meta := chain.EventMeta{
		Contract:    common.HexToAddress(env.Contract),
		BlockNumber: env.BlockNumber,
		Timestamp:   env.Timestamp,
		TxHash:      common.HexToHash(env.TxHash),
		LogIndex:    env.LogIndex,
	}

	switch env.Type {
	case envMarketListed:
		return &chain.MarketListed{EventMeta: meta, CToken: common.HexToAddress(env.CToken)}, nil

	case envNewPriceOracle:
		return &chain.NewPriceOracle{EventMeta: meta, NewPriceOracle: common.HexToAddress(env.NewOracle)}, nil

	case envMarketEntered:
		return &chain.MarketEntered{
			EventMeta: meta,
			CToken:    common.HexToAddress(env.CToken),
			Account:   common.HexToAddress(env.Account),
		}, nil

	case envMarketExited:
		return &chain.MarketExited{
			EventMeta: meta,
			CToken:    common.HexToAddress(env.CToken),
			Account:   common.HexToAddress(env.Account),
		}, nil

	case envAccrueInterest:
		return &chain.AccrueInterest{EventMeta: meta, LegacyABI: env.LegacyABI}, nil

	case envMint:
		mintAmount, err := parseAmount(env.MintAmount)
		if err != nil {
			return nil, err
		}
		mintTokens, err := parseAmount(env.MintTokens)
		if err != nil {
			return nil, err
		}
		return &chain.Mint{
			EventMeta:  meta,
			Minter:     common.HexToAddress(env.Minter),
			MintAmount: mintAmount,
			MintTokens: mintTokens,
		}, nil

	case envRedeem:
		redeemAmount, err := parseAmount(env.RedeemAmount)
		if err != nil {
			return nil, err
		}
		redeemTokens, err := parseAmount(env.RedeemTokens)
		if err != nil {
			return nil, err
		}
		return &chain.Redeem{
			EventMeta:    meta,
			Redeemer:     common.HexToAddress(env.Redeemer),
			RedeemAmount: redeemAmount,
			RedeemTokens: redeemTokens,
		}, nil

	case envBorrow:
		borrowAmount, err := parseAmount(env.BorrowAmount)
		if err != nil {
			return nil, err
		}
		return &chain.Borrow{
			EventMeta:    meta,
			Borrower:     common.HexToAddress(env.Borrower),
			BorrowAmount: borrowAmount,
		}, nil

	case envRepayBorrow:
		repayAmount, err := parseAmount(env.RepayAmount)
		if err != nil {
			return nil, err
		}
		return &chain.RepayBorrow{
			EventMeta:   meta,
			Payer:       common.HexToAddress(env.Payer),
			Borrower:    common.HexToAddress(env.Borrower),
			RepayAmount: repayAmount,
		}, nil

	case envLiquidateBorrow:
		repayAmount, err := parseAmount(env.RepayAmount)
		if err != nil {
			return nil, err
		}
		seizeTokens, err := parseAmount(env.SeizeTokens)
		if err != nil {
			return nil, err
		}
		return &chain.LiquidateBorrow{
			EventMeta:        meta,
			Liquidator:       common.HexToAddress(env.Liquidator),
			Borrower:         common.HexToAddress(env.Borrower),
			RepayAmount:      repayAmount,
			CTokenCollateral: common.HexToAddress(env.CTokenCollateral),
			SeizeTokens:      seizeTokens,
		}, nil

	case envTransfer:
		amount, err := parseAmount(env.Amount)
		if err != nil {
			return nil, err
		}
		return &chain.Transfer{
			EventMeta: meta,
			From:      common.HexToAddress(env.From),
			To:        common.HexToAddress(env.To),
			Amount:    amount,
		}, nil

	case envApproval:
		amount, err := parseAmount(env.Amount)
		if err != nil {
			return nil, err
		}
		return &chain.Approval{
			EventMeta: meta,
			Owner:     common.HexToAddress(env.Owner),
			Spender:   common.HexToAddress(env.Spender),
			Amount:    amount,
		}, nil

	case envNewReserveFactor:
		mantissa, err := parseAmount(env.Mantissa)
		if err != nil {
			return nil, err
		}
		return &chain.NewReserveFactor{EventMeta: meta, NewReserveFactorMantissa: mantissa}, nil
	}

	return nil, fmt.Errorf("unknown event type %q", env.Type)
}

// parseAmount parses a decimal-string amount. Empty means zero.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}
