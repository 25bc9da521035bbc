package domain

import "github.com/shopspring/decimal"

// User is a wallet-level aggregate, keyed by wallet address (lowercase hex).
// Totals are recomputed by summing the owned UserMarket rows.
type User struct {
	ID string // wallet address, lowercase hex

	CreationBlockNumber int64
	LastBlockNumber     int64

	// UserMarkets holds owned UserMarket ids in first-interaction order.
	UserMarkets []string

	TotalSupplyUsd decimal.Decimal
	TotalBorrowUsd decimal.Decimal
}

// NewUser returns a user created at the given block.
func NewUser(id string, blockNumber int64) *User {
	return &User{
		ID:                  id,
		CreationBlockNumber: blockNumber,
		LastBlockNumber:     blockNumber,
		UserMarkets:         []string{},
		TotalSupplyUsd:      decimal.Zero,
		TotalBorrowUsd:      decimal.Zero,
	}
}

// AddUserMarket appends a user-market id, keeping the list duplicate-free.
func (u *User) AddUserMarket(userMarketID string) {
	for _, id := range u.UserMarkets {
		if id == userMarketID {
			return
		}
	}
	u.UserMarkets = append(u.UserMarkets, userMarketID)
}

// UserMarket is one user's position in one market. The key is the
// order-sensitive concatenation of user id and market id.
type UserMarket struct {
	ID       string
	UserID   string
	MarketID string

	CreationBlockNumber int64
	LatestBlockNumber   int64

	// EnteredMarket is the collateral opt-in flag.
	EnteredMarket bool

	CTokenBalance  decimal.Decimal
	TotalSupply    decimal.Decimal
	TotalSupplyUsd decimal.Decimal
	TotalBorrow    decimal.Decimal
	TotalBorrowUsd decimal.Decimal
	ApprovalAmount decimal.Decimal
}

// UserMarketID composes the UserMarket key from its parents.
func UserMarketID(userID, marketID string) string {
	return userID + marketID
}

// NewUserMarket returns a zeroed position for the (user, market) pair.
func NewUserMarket(userID, marketID string, blockNumber int64) *UserMarket {
	return &UserMarket{
		ID:                  UserMarketID(userID, marketID),
		UserID:              userID,
		MarketID:            marketID,
		CreationBlockNumber: blockNumber,
		LatestBlockNumber:   blockNumber,
		EnteredMarket:       false,
		CTokenBalance:       decimal.Zero,
		TotalSupply:         decimal.Zero,
		TotalSupplyUsd:      decimal.Zero,
		TotalBorrow:         decimal.Zero,
		TotalBorrowUsd:      decimal.Zero,
		ApprovalAmount:      decimal.Zero,
	}
}
