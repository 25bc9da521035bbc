package postgres

import (
	"context"
	"fmt"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

// UserMarketStore implements storage.UserMarketStore using PostgreSQL.
type UserMarketStore struct {
	pool *Pool
}

// NewUserMarketStore creates a new UserMarketStore.
func NewUserMarketStore(pool *Pool) *UserMarketStore {
	return &UserMarketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.UserMarketStore = (*UserMarketStore)(nil)

// Upsert writes the full position row.
func (s *UserMarketStore) Upsert(ctx context.Context, um *domain.UserMarket) error {
	if um == nil || um.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO user_markets (
			id, user_id, market_id, creation_block_number, latest_block_number,
			entered_market, ctoken_balance,
			total_supply, total_supply_usd, total_borrow, total_borrow_usd,
			approval_amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			latest_block_number = EXCLUDED.latest_block_number,
			entered_market = EXCLUDED.entered_market,
			ctoken_balance = EXCLUDED.ctoken_balance,
			total_supply = EXCLUDED.total_supply,
			total_supply_usd = EXCLUDED.total_supply_usd,
			total_borrow = EXCLUDED.total_borrow,
			total_borrow_usd = EXCLUDED.total_borrow_usd,
			approval_amount = EXCLUDED.approval_amount
	`

	_, err := s.pool.Exec(ctx, query,
		um.ID, um.UserID, um.MarketID, um.CreationBlockNumber, um.LatestBlockNumber,
		um.EnteredMarket, um.CTokenBalance,
		um.TotalSupply, um.TotalSupplyUsd, um.TotalBorrow, um.TotalBorrowUsd,
		um.ApprovalAmount,
	)
	if err != nil {
		return fmt.Errorf("upsert user market: %w", err)
	}
	return nil
}

// Get retrieves a position by composite id. Returns ErrNotFound if not exists.
func (s *UserMarketStore) Get(ctx context.Context, userMarketID string) (*domain.UserMarket, error) {
	query := `
		SELECT id, user_id, market_id, creation_block_number, latest_block_number,
			entered_market, ctoken_balance,
			total_supply, total_supply_usd, total_borrow, total_borrow_usd,
			approval_amount
		FROM user_markets
		WHERE id = $1
	`

	var um domain.UserMarket
	err := s.pool.QueryRow(ctx, query, userMarketID).Scan(
		&um.ID, &um.UserID, &um.MarketID, &um.CreationBlockNumber, &um.LatestBlockNumber,
		&um.EnteredMarket, &um.CTokenBalance,
		&um.TotalSupply, &um.TotalSupplyUsd, &um.TotalBorrow, &um.TotalBorrowUsd,
		&um.ApprovalAmount,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user market by id: %w", err)
	}
	return &um, nil
}
