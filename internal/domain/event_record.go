package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// EventKind classifies append-only event-log records.
type EventKind string

// Event kinds.
const (
	EventMint        EventKind = "mint"
	EventRedeem      EventKind = "redeem"
	EventBorrow      EventKind = "borrow"
	EventRepayBorrow EventKind = "repay_borrow"
	EventTransfer    EventKind = "transfer"
	EventLiquidation EventKind = "liquidation"
	EventApproval    EventKind = "approval"
)

// EventRecord is one immutable audit-log row. Records are keyed by
// (transaction hash, log index) because a single transaction can emit several
// logs of the same type.
//
// Field usage by kind:
//   - mint/redeem: UserMarketID, UnderlyingAmount, CTokenAmount
//   - borrow/repay_borrow: UserMarketID, UnderlyingAmount
//   - transfer: UserMarketID (from side), ToUserMarketID, CTokenAmount
//   - liquidation: UserMarketID (borrower debt market), SeizeUserMarketID
//     (borrower seize market), LiquidatorUserMarketID, UnderlyingAmount
//     (repay, debt-market decimals), CTokenAmount (seize, cToken decimals)
//   - approval: UserMarketID, CTokenAmount
type EventRecord struct {
	ID   string
	Kind EventKind

	BlockNumber int64
	Timestamp   int64

	UserMarketID           string
	ToUserMarketID         string
	SeizeUserMarketID      string
	LiquidatorUserMarketID string

	UnderlyingAmount decimal.Decimal
	CTokenAmount     decimal.Decimal
}

// EventRecordID composes the record key from transaction hash and log index.
func EventRecordID(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s-%d", txHash, logIndex)
}
