package postgres

import (
	"context"
	"fmt"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

// ProtocolStore implements storage.ProtocolStore using PostgreSQL.
type ProtocolStore struct {
	pool *Pool
}

// NewProtocolStore creates a new ProtocolStore.
func NewProtocolStore(pool *Pool) *ProtocolStore {
	return &ProtocolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ProtocolStore = (*ProtocolStore)(nil)

// Upsert writes the full protocol row.
func (s *ProtocolStore) Upsert(ctx context.Context, p *domain.Protocol) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO protocol (
			id, price_oracle_address, last_oracle_change_block, latest_block_number,
			markets, total_supply_usd, total_borrow_usd, total_reserves_usd, utilization
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			price_oracle_address = EXCLUDED.price_oracle_address,
			last_oracle_change_block = EXCLUDED.last_oracle_change_block,
			latest_block_number = EXCLUDED.latest_block_number,
			markets = EXCLUDED.markets,
			total_supply_usd = EXCLUDED.total_supply_usd,
			total_borrow_usd = EXCLUDED.total_borrow_usd,
			total_reserves_usd = EXCLUDED.total_reserves_usd,
			utilization = EXCLUDED.utilization
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.PriceOracleAddress, p.LastOracleChangeBlock, p.LatestBlockNumber,
		p.Markets, p.TotalSupplyUsd, p.TotalBorrowUsd, p.TotalReservesUsd, p.Utilization,
	)
	if err != nil {
		return fmt.Errorf("upsert protocol: %w", err)
	}
	return nil
}

// Get retrieves the protocol row. Returns ErrNotFound if not exists.
func (s *ProtocolStore) Get(ctx context.Context) (*domain.Protocol, error) {
	query := `
		SELECT id, price_oracle_address, last_oracle_change_block, latest_block_number,
			markets, total_supply_usd, total_borrow_usd, total_reserves_usd, utilization
		FROM protocol
		WHERE id = $1
	`

	var p domain.Protocol
	err := s.pool.QueryRow(ctx, query, domain.ProtocolID).Scan(
		&p.ID, &p.PriceOracleAddress, &p.LastOracleChangeBlock, &p.LatestBlockNumber,
		&p.Markets, &p.TotalSupplyUsd, &p.TotalBorrowUsd, &p.TotalReservesUsd, &p.Utilization,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get protocol: %w", err)
	}
	return &p, nil
}
