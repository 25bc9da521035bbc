package postgres

import (
	"context"
	"fmt"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

// UserStore implements storage.UserStore using PostgreSQL.
type UserStore struct {
	pool *Pool
}

// NewUserStore creates a new UserStore.
func NewUserStore(pool *Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Compile-time interface check.
var _ storage.UserStore = (*UserStore)(nil)

// Upsert writes the full user row.
func (s *UserStore) Upsert(ctx context.Context, u *domain.User) error {
	if u == nil || u.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO users (
			id, creation_block_number, last_block_number,
			user_markets, total_supply_usd, total_borrow_usd
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			last_block_number = EXCLUDED.last_block_number,
			user_markets = EXCLUDED.user_markets,
			total_supply_usd = EXCLUDED.total_supply_usd,
			total_borrow_usd = EXCLUDED.total_borrow_usd
	`

	_, err := s.pool.Exec(ctx, query,
		u.ID, u.CreationBlockNumber, u.LastBlockNumber,
		u.UserMarkets, u.TotalSupplyUsd, u.TotalBorrowUsd,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// Get retrieves a user by wallet address. Returns ErrNotFound if not exists.
func (s *UserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT id, creation_block_number, last_block_number,
			user_markets, total_supply_usd, total_borrow_usd
		FROM users
		WHERE id = $1
	`

	var u domain.User
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&u.ID, &u.CreationBlockNumber, &u.LastBlockNumber,
		&u.UserMarkets, &u.TotalSupplyUsd, &u.TotalBorrowUsd,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}
