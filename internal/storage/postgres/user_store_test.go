package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-index/internal/domain"
	"lending-index/internal/storage"
)

func TestUserStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewUserStore(pool)
	ctx := context.Background()

	user := domain.NewUser("0xuser1", 100)
	user.AddUserMarket("0xuser10xmarket1")
	user.AddUserMarket("0xuser10xmarket2")
	user.TotalSupplyUsd = decimal.NewFromInt(6000)
	user.TotalBorrowUsd = decimal.NewFromInt(1500)
	user.LastBlockNumber = 200

	err := store.Upsert(ctx, user)
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, "0xuser1")
	require.NoError(t, err)

	assert.Equal(t, user.ID, retrieved.ID)
	assert.Equal(t, int64(100), retrieved.CreationBlockNumber)
	assert.Equal(t, int64(200), retrieved.LastBlockNumber)
	assert.Equal(t, []string{"0xuser10xmarket1", "0xuser10xmarket2"}, retrieved.UserMarkets)
	assert.True(t, retrieved.TotalSupplyUsd.Equal(decimal.NewFromInt(6000)), "TotalSupplyUsd = %s", retrieved.TotalSupplyUsd)
	assert.True(t, retrieved.TotalBorrowUsd.Equal(decimal.NewFromInt(1500)), "TotalBorrowUsd = %s", retrieved.TotalBorrowUsd)
}

func TestUserStore_UpsertPreservesCreationBlock(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewUserStore(pool)
	ctx := context.Background()

	user := domain.NewUser("0xuser1", 100)
	require.NoError(t, store.Upsert(ctx, user))

	// The conflict clause only updates mutable columns.
	later := domain.NewUser("0xuser1", 999)
	later.LastBlockNumber = 300
	require.NoError(t, store.Upsert(ctx, later))

	retrieved, err := store.Get(ctx, "0xuser1")
	require.NoError(t, err)

	assert.Equal(t, int64(100), retrieved.CreationBlockNumber)
	assert.Equal(t, int64(300), retrieved.LastBlockNumber)
}

func TestUserStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewUserStore(pool)

	_, err := store.Get(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUserMarketStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewUserMarketStore(pool)
	ctx := context.Background()

	um := domain.NewUserMarket("0xuser1", "0xmarket1", 100)
	um.EnteredMarket = true
	um.CTokenBalance = decimal.NewFromInt(1000)
	um.TotalSupply = decimal.NewFromInt(2000)
	um.TotalSupplyUsd = decimal.NewFromInt(6000)
	um.TotalBorrow = decimal.NewFromInt(500)
	um.TotalBorrowUsd = decimal.NewFromInt(1500)
	um.ApprovalAmount = decimal.NewFromInt(250)

	err := store.Upsert(ctx, um)
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, domain.UserMarketID("0xuser1", "0xmarket1"))
	require.NoError(t, err)

	assert.Equal(t, um.ID, retrieved.ID)
	assert.Equal(t, "0xuser1", retrieved.UserID)
	assert.Equal(t, "0xmarket1", retrieved.MarketID)
	assert.True(t, retrieved.EnteredMarket)
	assert.True(t, retrieved.CTokenBalance.Equal(decimal.NewFromInt(1000)), "CTokenBalance = %s", retrieved.CTokenBalance)
	assert.True(t, retrieved.TotalSupplyUsd.Equal(decimal.NewFromInt(6000)), "TotalSupplyUsd = %s", retrieved.TotalSupplyUsd)
	assert.True(t, retrieved.ApprovalAmount.Equal(decimal.NewFromInt(250)), "ApprovalAmount = %s", retrieved.ApprovalAmount)
}

func TestUserMarketStore_UpsertOverwritesBalances(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewUserMarketStore(pool)
	ctx := context.Background()

	um := domain.NewUserMarket("0xuser1", "0xmarket1", 100)
	um.CTokenBalance = decimal.NewFromInt(1000)
	require.NoError(t, store.Upsert(ctx, um))

	um.CTokenBalance = decimal.NewFromInt(600)
	um.LatestBlockNumber = 200
	require.NoError(t, store.Upsert(ctx, um))

	retrieved, err := store.Get(ctx, um.ID)
	require.NoError(t, err)

	assert.True(t, retrieved.CTokenBalance.Equal(decimal.NewFromInt(600)), "CTokenBalance = %s", retrieved.CTokenBalance)
	assert.Equal(t, int64(200), retrieved.LatestBlockNumber)
}

func TestUserMarketStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewUserMarketStore(pool)

	_, err := store.Get(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
