package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

// EventLogStore implements storage.EventLogStore using PostgreSQL.
type EventLogStore struct {
	pool *Pool
}

// NewEventLogStore creates a new EventLogStore.
func NewEventLogStore(pool *Pool) *EventLogStore {
	return &EventLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventLogStore = (*EventLogStore)(nil)

const eventRecordColumns = `
	id, kind, block_number, event_timestamp,
	user_market_id, to_user_market_id, seize_user_market_id, liquidator_user_market_id,
	underlying_amount, ctoken_amount
`

// Insert appends a record. Returns ErrDuplicateKey if the id exists.
func (s *EventLogStore) Insert(ctx context.Context, r *domain.EventRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO event_log (` + eventRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		r.ID, string(r.Kind), r.BlockNumber, r.Timestamp,
		r.UserMarketID, r.ToUserMarketID, r.SeizeUserMarketID, r.LiquidatorUserMarketID,
		r.UnderlyingAmount, r.CTokenAmount,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert event record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by id. Returns ErrNotFound if not exists.
func (s *EventLogStore) GetByID(ctx context.Context, id string) (*domain.EventRecord, error) {
	query := `SELECT ` + eventRecordColumns + ` FROM event_log WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	r, err := scanEventRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get event record by id: %w", err)
	}
	return r, nil
}

// GetByUserMarket retrieves records referencing the position, ordered by
// (block number, id) ASC.
func (s *EventLogStore) GetByUserMarket(ctx context.Context, userMarketID string) ([]*domain.EventRecord, error) {
	query := `
		SELECT ` + eventRecordColumns + `
		FROM event_log
		WHERE user_market_id = $1
			OR to_user_market_id = $1
			OR seize_user_market_id = $1
			OR liquidator_user_market_id = $1
		ORDER BY block_number ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, userMarketID)
	if err != nil {
		return nil, fmt.Errorf("get event records by user market: %w", err)
	}
	defer rows.Close()

	var records []*domain.EventRecord
	for rows.Next() {
		r, err := scanEventRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event record rows: %w", err)
	}
	return records, nil
}

// scanEventRecord scans a single row into an EventRecord.
func scanEventRecord(row pgx.Row) (*domain.EventRecord, error) {
	var r domain.EventRecord
	var kind string

	err := row.Scan(
		&r.ID, &kind, &r.BlockNumber, &r.Timestamp,
		&r.UserMarketID, &r.ToUserMarketID, &r.SeizeUserMarketID, &r.LiquidatorUserMarketID,
		&r.UnderlyingAmount, &r.CTokenAmount,
	)
	if err != nil {
		return nil, err
	}

	r.Kind = domain.EventKind(kind)
	return &r, nil
}
