// Package chain defines the contracts this indexer expects from its on-chain
// collaborators: a typed event stream, a block-pinned contract reader and a
// market subscription registry. ABI decoding happens upstream; everything
// here is already typed.
package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressID renders an address the way entity keys expect it: lowercase hex.
func AddressID(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// EventMeta carries the fields common to every chain event. Delivery is
// required to be (block number, log index) ordered and exactly-once per log.
type EventMeta struct {
	// Contract is the emitting contract (cToken or comptroller).
	Contract    common.Address
	BlockNumber int64
	Timestamp   int64
	TxHash      common.Hash
	LogIndex    uint
}

// Event is any typed chain event.
type Event interface {
	Meta() EventMeta
}

// Meta implements Event for embedding.
func (m EventMeta) Meta() EventMeta { return m }

// Comptroller events.

// MarketListed announces a new market (cToken) supported by the protocol.
type MarketListed struct {
	EventMeta
	CToken common.Address
}

// NewPriceOracle announces a change of the protocol's price oracle.
type NewPriceOracle struct {
	EventMeta
	NewPriceOracle common.Address
}

// MarketEntered marks a user opting a market in as collateral.
type MarketEntered struct {
	EventMeta
	CToken  common.Address
	Account common.Address
}

// MarketExited marks a user opting a market out as collateral.
type MarketExited struct {
	EventMeta
	CToken  common.Address
	Account common.Address
}

// cToken events.

// AccrueInterest is emitted on every interest accrual, immediately before
// any mint/redeem/borrow/repay/liquidation in the same transaction. Legacy
// markets emit an older ABI variant; both carry the same meaning here.
type AccrueInterest struct {
	EventMeta
	// LegacyABI marks the pre-upgrade event signature used by the first
	// five listed markets.
	LegacyABI bool
}

// Mint is emitted when a user supplies underlying and receives cTokens.
type Mint struct {
	EventMeta
	Minter     common.Address
	MintAmount *big.Int // underlying
	MintTokens *big.Int // cTokens
}

// Redeem is emitted when a user redeems cTokens for underlying.
type Redeem struct {
	EventMeta
	Redeemer     common.Address
	RedeemAmount *big.Int // underlying
	RedeemTokens *big.Int // cTokens
}

// Borrow is emitted when a user borrows underlying.
type Borrow struct {
	EventMeta
	Borrower     common.Address
	BorrowAmount *big.Int
}

// RepayBorrow is emitted when a borrow is repaid (possibly by a third party).
type RepayBorrow struct {
	EventMeta
	Payer       common.Address
	Borrower    common.Address
	RepayAmount *big.Int
}

// LiquidateBorrow is emitted when a borrower is liquidated. The emitting
// contract is the debt market; CTokenCollateral is the seize market.
type LiquidateBorrow struct {
	EventMeta
	Liquidator       common.Address
	Borrower         common.Address
	RepayAmount      *big.Int // underlying of the debt market
	CTokenCollateral common.Address
	SeizeTokens      *big.Int // cTokens of the seize market
}

// Transfer is emitted for every cToken movement, including the internal legs
// of mint/redeem/liquidation where the counterparty is the market itself.
type Transfer struct {
	EventMeta
	From   common.Address
	To     common.Address
	Amount *big.Int // cTokens
}

// Approval is emitted when a user approves cToken spending.
type Approval struct {
	EventMeta
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

// NewReserveFactor is emitted when a market's reserve factor changes.
type NewReserveFactor struct {
	EventMeta
	NewReserveFactorMantissa *big.Int
}
