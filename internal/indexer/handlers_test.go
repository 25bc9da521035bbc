package indexer

import (
	"context"
	"io"
	"log"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"lending-index/internal/chain"
	"lending-index/internal/chain/stub"
	"lending-index/internal/domain"
	"lending-index/internal/history"
	"lending-index/internal/oracle"
	"lending-index/internal/reconcile"
	"lending-index/internal/storage/memory"
)

var (
	debtMarketAddr       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	debtUnderlyingAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	comptrollerAddr      = common.HexToAddress("0x3333333333333333333333333333333333333333")
	seizeMarketAddr      = common.HexToAddress("0x4444444444444444444444444444444444444444")
	seizeUnderlyingAddr  = common.HexToAddress("0x5555555555555555555555555555555555555555")
	oracleAddr           = common.HexToAddress("0x6d2299c48a8dd07a872fdd0f8233924872ad1071")
	supplierAddr         = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	counterpartyAddr     = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	liquidatorWalletAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// listBlock sits inside the USD-base oracle era so lazy protocol creation
// defaults to the era-2 oracle the fixture seeds prices into.
const (
	listBlock     = int64(oracle.UsdBaseBlock + 1000)
	testTimestamp = int64(1700000000)
)

func mantissa(value int64, exp int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
	return new(big.Int).Mul(big.NewInt(value), scale)
}

type fixture struct {
	ix     *Indexer
	reader *stub.Reader

	markets         *memory.MarketStore
	protocols       *memory.ProtocolStore
	users           *memory.UserStore
	userMarkets     *memory.UserMarketStore
	eventLog        *memory.EventLogStore
	marketBuckets   *memory.MarketBucketStore
	protocolBuckets *memory.ProtocolBucketStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reader := stub.NewReader()
	markets := memory.NewMarketStore()
	protocols := memory.NewProtocolStore()
	users := memory.NewUserStore()
	userMarkets := memory.NewUserMarketStore()
	eventLog := memory.NewEventLogStore()
	marketBuckets := memory.NewMarketBucketStore()
	protocolBuckets := memory.NewProtocolBucketStore()
	logger := log.New(io.Discard, "", 0)

	resolver := oracle.NewResolver(reader, protocols, logger)
	marketRec := reconcile.NewMarketReconciler(markets, protocols, reader, resolver, logger)
	protocolRec := reconcile.NewProtocolReconciler(protocols, markets, logger)
	userRec := reconcile.NewUserReconciler(users, userMarkets, markets, reader, logger)
	recorder := history.NewRecorder(markets, protocols, marketBuckets, protocolBuckets, logger)

	ix := New(markets, protocols, eventLog, marketRec, protocolRec, userRec, recorder, reader, logger)

	return &fixture{
		ix:              ix,
		reader:          reader,
		markets:         markets,
		protocols:       protocols,
		users:           users,
		userMarkets:     userMarkets,
		eventLog:        eventLog,
		marketBuckets:   marketBuckets,
		protocolBuckets: protocolBuckets,
	}
}

// seedChain wires descriptors, oracle prices and contract state for the debt
// market: 8-decimal cTEST over a 6-decimal TEST worth 1 USD, ETH at 2000 USD,
// an exchange rate of 2 and 1000 cTokens outstanding.
func (f *fixture) seedChain() {
	f.reader.SetToken(debtMarketAddr, "cTEST", "Test cToken", 8)
	f.reader.SetToken(debtUnderlyingAddr, "TEST", "Test Token", 6)

	market := f.reader.Market(debtMarketAddr)
	market.Underlying = debtUnderlyingAddr
	market.HasUnderlying = true
	market.Comptroller = comptrollerAddr
	market.HasComptroller = true
	market.ExchangeRateStored = mantissa(2, 16) // scale 18+6-8
	market.TotalSupply = mantissa(1000, 8)
	market.TotalBorrows = mantissa(500, 6)
	market.TotalReserves = big.NewInt(0)
	market.Cash = mantissa(1500, 6)
	market.SupplyRatePerBlock = big.NewInt(0)
	market.BorrowRatePerBlock = big.NewInt(0)

	oracleState := f.reader.Oracle(oracleAddr)
	oracleState.UnderlyingPrices[common.HexToAddress(domain.CEthAddress)] = mantissa(2000, 18)
	oracleState.UnderlyingPrices[debtMarketAddr] = mantissa(1, 30)
}

// seedSeizeMarket adds a second market for liquidation scenarios.
func (f *fixture) seedSeizeMarket() {
	f.reader.SetToken(seizeMarketAddr, "cSEIZE", "Seize cToken", 8)
	f.reader.SetToken(seizeUnderlyingAddr, "SEIZE", "Seize Token", 6)

	market := f.reader.Market(seizeMarketAddr)
	market.Underlying = seizeUnderlyingAddr
	market.HasUnderlying = true
	market.Comptroller = comptrollerAddr
	market.HasComptroller = true

	f.reader.Oracle(oracleAddr).UnderlyingPrices[seizeMarketAddr] = mantissa(1, 30)
}

func meta(contract common.Address, block int64, logIndex uint) chain.EventMeta {
	return chain.EventMeta{
		Contract:    contract,
		BlockNumber: block,
		Timestamp:   testTimestamp,
		TxHash:      common.BigToHash(big.NewInt(block*1000 + int64(logIndex))),
		LogIndex:    logIndex,
	}
}

func (f *fixture) listMarket(t *testing.T, marketAddr common.Address, logIndex uint) {
	t.Helper()

	err := f.ix.HandleEvent(context.Background(), &chain.MarketListed{
		EventMeta: meta(comptrollerAddr, listBlock, logIndex),
		CToken:    marketAddr,
	})
	if err != nil {
		t.Fatalf("MarketListed failed: %v", err)
	}
}

func TestMarketListed(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)

	market, err := f.markets.Get(ctx, chain.AddressID(debtMarketAddr))
	if err != nil {
		t.Fatalf("market row missing: %v", err)
	}
	if market.CTokenSymbol != "cTEST" || market.UnderlyingSymbol != "TEST" {
		t.Errorf("Unexpected descriptors: %+v", market)
	}

	if len(f.reader.Registered) != 1 || f.reader.Registered[0] != debtMarketAddr {
		t.Errorf("market not registered for delivery: %v", f.reader.Registered)
	}

	protocol, err := f.protocols.Get(ctx)
	if err != nil {
		t.Fatalf("protocol row missing: %v", err)
	}
	if len(protocol.Markets) != 1 || protocol.Markets[0] != market.ID {
		t.Errorf("market not listed on protocol: %v", protocol.Markets)
	}
}

func TestAccrueInterest_RefreshesMarketProtocolAndHistory(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)

	err := f.ix.HandleEvent(ctx, &chain.AccrueInterest{
		EventMeta: meta(debtMarketAddr, listBlock+1, 0),
	})
	if err != nil {
		t.Fatalf("AccrueInterest failed: %v", err)
	}

	market, err := f.markets.Get(ctx, chain.AddressID(debtMarketAddr))
	if err != nil {
		t.Fatalf("market row missing: %v", err)
	}
	if market.LatestBlockNumber != listBlock+1 {
		t.Errorf("LatestBlockNumber = %d, want %d", market.LatestBlockNumber, listBlock+1)
	}
	// 1000 cTokens at exchange rate 2 and 1 USD per underlying.
	if !market.TotalSupply.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("TotalSupply = %s, want 2000", market.TotalSupply)
	}

	protocol, err := f.protocols.Get(ctx)
	if err != nil {
		t.Fatalf("protocol row missing: %v", err)
	}
	if !protocol.TotalSupplyUsd.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("protocol TotalSupplyUsd = %s, want 2000", protocol.TotalSupplyUsd)
	}

	if _, err := f.marketBuckets.Get(ctx, domain.MarketBucketID(domain.BucketHour, testTimestamp, "cTEST")); err != nil {
		t.Errorf("market hour bucket missing: %v", err)
	}
	if _, err := f.protocolBuckets.Get(ctx, domain.ProtocolBucketID(domain.BucketDay, testTimestamp)); err != nil {
		t.Errorf("protocol day bucket missing: %v", err)
	}
}

func TestMintThenRedeem(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)

	state := f.reader.Market(debtMarketAddr)
	state.Balances[supplierAddr] = mantissa(1000, 8)
	state.BorrowBalances[supplierAddr] = big.NewInt(0)

	err := f.ix.HandleEvent(ctx, &chain.Mint{
		EventMeta:  meta(debtMarketAddr, listBlock+1, 1),
		Minter:     supplierAddr,
		MintAmount: mantissa(2000, 6),
		MintTokens: mantissa(1000, 8),
	})
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	positionID := domain.UserMarketID(chain.AddressID(supplierAddr), chain.AddressID(debtMarketAddr))
	position, err := f.userMarkets.Get(ctx, positionID)
	if err != nil {
		t.Fatalf("position missing: %v", err)
	}
	if !position.CTokenBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("CTokenBalance = %s, want 1000", position.CTokenBalance)
	}

	state.Balances[supplierAddr] = mantissa(600, 8)

	err = f.ix.HandleEvent(ctx, &chain.Redeem{
		EventMeta:    meta(debtMarketAddr, listBlock+2, 1),
		Redeemer:     supplierAddr,
		RedeemAmount: mantissa(800, 6),
		RedeemTokens: mantissa(400, 8),
	})
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}

	position, err = f.userMarkets.Get(ctx, positionID)
	if err != nil {
		t.Fatalf("position missing: %v", err)
	}
	if !position.CTokenBalance.Equal(decimal.NewFromInt(600)) {
		t.Errorf("CTokenBalance after redeem = %s, want 600", position.CTokenBalance)
	}

	records, err := f.eventLog.GetByUserMarket(ctx, positionID)
	if err != nil {
		t.Fatalf("GetByUserMarket failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Kind != domain.EventMint || records[1].Kind != domain.EventRedeem {
		t.Errorf("Wrong record kinds: %s, %s", records[0].Kind, records[1].Kind)
	}
	if !records[0].UnderlyingAmount.Equal(decimal.NewFromInt(2000)) || !records[0].CTokenAmount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Mint record amounts: %s underlying, %s cTokens", records[0].UnderlyingAmount, records[0].CTokenAmount)
	}
	if !records[1].UnderlyingAmount.Equal(decimal.NewFromInt(800)) || !records[1].CTokenAmount.Equal(decimal.NewFromInt(400)) {
		t.Errorf("Redeem record amounts: %s underlying, %s cTokens", records[1].UnderlyingAmount, records[1].CTokenAmount)
	}
}

func TestBorrowAndRepay(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)

	state := f.reader.Market(debtMarketAddr)
	state.Balances[supplierAddr] = big.NewInt(0)
	state.BorrowBalances[supplierAddr] = mantissa(300, 6)

	err := f.ix.HandleEvent(ctx, &chain.Borrow{
		EventMeta:    meta(debtMarketAddr, listBlock+1, 1),
		Borrower:     supplierAddr,
		BorrowAmount: mantissa(300, 6),
	})
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	state.BorrowBalances[supplierAddr] = mantissa(100, 6)

	// Repaid by a third party; the borrower's position still absorbs it.
	err = f.ix.HandleEvent(ctx, &chain.RepayBorrow{
		EventMeta:   meta(debtMarketAddr, listBlock+2, 1),
		Payer:       counterpartyAddr,
		Borrower:    supplierAddr,
		RepayAmount: mantissa(200, 6),
	})
	if err != nil {
		t.Fatalf("RepayBorrow failed: %v", err)
	}

	positionID := domain.UserMarketID(chain.AddressID(supplierAddr), chain.AddressID(debtMarketAddr))
	position, err := f.userMarkets.Get(ctx, positionID)
	if err != nil {
		t.Fatalf("position missing: %v", err)
	}
	if !position.TotalBorrow.Equal(decimal.NewFromInt(100)) {
		t.Errorf("TotalBorrow = %s, want 100", position.TotalBorrow)
	}

	if _, err := f.userMarkets.Get(ctx, domain.UserMarketID(chain.AddressID(counterpartyAddr), chain.AddressID(debtMarketAddr))); err == nil {
		t.Error("payer should not gain a position from repaying")
	}

	records, err := f.eventLog.GetByUserMarket(ctx, positionID)
	if err != nil {
		t.Fatalf("GetByUserMarket failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Kind != domain.EventBorrow || records[1].Kind != domain.EventRepayBorrow {
		t.Errorf("Wrong record kinds: %s, %s", records[0].Kind, records[1].Kind)
	}
}

func TestTransfer_InternalLegsAreDropped(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)

	for _, transfer := range []*chain.Transfer{
		{EventMeta: meta(debtMarketAddr, listBlock+1, 1), From: debtMarketAddr, To: supplierAddr, Amount: mantissa(10, 8)},
		{EventMeta: meta(debtMarketAddr, listBlock+1, 2), From: supplierAddr, To: debtMarketAddr, Amount: mantissa(10, 8)},
	} {
		if err := f.ix.HandleEvent(ctx, transfer); err != nil {
			t.Fatalf("internal transfer leg should be dropped silently: %v", err)
		}
	}

	positionID := domain.UserMarketID(chain.AddressID(supplierAddr), chain.AddressID(debtMarketAddr))
	records, err := f.eventLog.GetByUserMarket(ctx, positionID)
	if err != nil {
		t.Fatalf("GetByUserMarket failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("internal legs should not be recorded, got %d records", len(records))
	}
}

func TestTransfer_WalletToWallet(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)

	state := f.reader.Market(debtMarketAddr)
	state.Balances[supplierAddr] = mantissa(600, 8)
	state.Balances[counterpartyAddr] = mantissa(400, 8)
	state.BorrowBalances[supplierAddr] = big.NewInt(0)
	state.BorrowBalances[counterpartyAddr] = big.NewInt(0)

	err := f.ix.HandleEvent(ctx, &chain.Transfer{
		EventMeta: meta(debtMarketAddr, listBlock+1, 1),
		From:      supplierAddr,
		To:        counterpartyAddr,
		Amount:    mantissa(400, 8),
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	fromID := domain.UserMarketID(chain.AddressID(supplierAddr), chain.AddressID(debtMarketAddr))
	toID := domain.UserMarketID(chain.AddressID(counterpartyAddr), chain.AddressID(debtMarketAddr))

	from, err := f.userMarkets.Get(ctx, fromID)
	if err != nil {
		t.Fatalf("sender position missing: %v", err)
	}
	if !from.CTokenBalance.Equal(decimal.NewFromInt(600)) {
		t.Errorf("sender CTokenBalance = %s, want 600", from.CTokenBalance)
	}
	to, err := f.userMarkets.Get(ctx, toID)
	if err != nil {
		t.Fatalf("recipient position missing: %v", err)
	}
	if !to.CTokenBalance.Equal(decimal.NewFromInt(400)) {
		t.Errorf("recipient CTokenBalance = %s, want 400", to.CTokenBalance)
	}

	records, err := f.eventLog.GetByUserMarket(ctx, toID)
	if err != nil {
		t.Fatalf("GetByUserMarket failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Kind != domain.EventTransfer || records[0].UserMarketID != fromID || records[0].ToUserMarketID != toID {
		t.Errorf("Unexpected transfer record: %+v", records[0])
	}
	if !records[0].CTokenAmount.Equal(decimal.NewFromInt(400)) {
		t.Errorf("Transfer amount = %s, want 400", records[0].CTokenAmount)
	}

	// A bare transfer carries no AccrueInterest, so the refresh runs here.
	market, err := f.markets.Get(ctx, chain.AddressID(debtMarketAddr))
	if err != nil {
		t.Fatalf("market row missing: %v", err)
	}
	if market.LatestBlockNumber != listBlock+1 {
		t.Errorf("transfer should refresh the market, LatestBlockNumber = %d", market.LatestBlockNumber)
	}
	if _, err := f.marketBuckets.Get(ctx, domain.MarketBucketID(domain.BucketHour, testTimestamp, "cTEST")); err != nil {
		t.Errorf("market hour bucket missing: %v", err)
	}
}

func TestLiquidateBorrow_TouchesThreePositions(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	f.seedSeizeMarket()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)
	f.listMarket(t, seizeMarketAddr, 1)

	debtState := f.reader.Market(debtMarketAddr)
	debtState.Balances[supplierAddr] = big.NewInt(0)
	debtState.BorrowBalances[supplierAddr] = mantissa(400, 6)

	seizeState := f.reader.Market(seizeMarketAddr)
	seizeState.Balances[supplierAddr] = mantissa(950, 8)
	seizeState.BorrowBalances[supplierAddr] = big.NewInt(0)
	seizeState.Balances[liquidatorWalletAddr] = mantissa(50, 8)
	seizeState.BorrowBalances[liquidatorWalletAddr] = big.NewInt(0)

	err := f.ix.HandleEvent(ctx, &chain.LiquidateBorrow{
		EventMeta:        meta(debtMarketAddr, listBlock+1, 3),
		Liquidator:       liquidatorWalletAddr,
		Borrower:         supplierAddr,
		RepayAmount:      mantissa(100, 6),
		CTokenCollateral: seizeMarketAddr,
		SeizeTokens:      mantissa(50, 8),
	})
	if err != nil {
		t.Fatalf("LiquidateBorrow failed: %v", err)
	}

	borrowerID := chain.AddressID(supplierAddr)
	debtID := domain.UserMarketID(borrowerID, chain.AddressID(debtMarketAddr))
	seizeID := domain.UserMarketID(borrowerID, chain.AddressID(seizeMarketAddr))
	liquidatorID := domain.UserMarketID(chain.AddressID(liquidatorWalletAddr), chain.AddressID(seizeMarketAddr))

	for _, id := range []string{debtID, seizeID, liquidatorID} {
		if _, err := f.userMarkets.Get(ctx, id); err != nil {
			t.Errorf("position %s missing after liquidation: %v", id, err)
		}
	}

	records, err := f.eventLog.GetByUserMarket(ctx, debtID)
	if err != nil {
		t.Fatalf("GetByUserMarket failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	record := records[0]
	if record.Kind != domain.EventLiquidation {
		t.Errorf("Kind = %s", record.Kind)
	}
	if record.UserMarketID != debtID || record.SeizeUserMarketID != seizeID || record.LiquidatorUserMarketID != liquidatorID {
		t.Errorf("Wrong position references: %+v", record)
	}
	if !record.UnderlyingAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("UnderlyingAmount = %s, want 100 (debt market scaling)", record.UnderlyingAmount)
	}
	if !record.CTokenAmount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("CTokenAmount = %s, want 50 (seize market scaling)", record.CTokenAmount)
	}

	// The same record is reachable through all three positions.
	for _, id := range []string{seizeID, liquidatorID} {
		got, err := f.eventLog.GetByUserMarket(ctx, id)
		if err != nil {
			t.Fatalf("GetByUserMarket failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != record.ID {
			t.Errorf("record not reachable through %s", id)
		}
	}
}

func TestEnterAndExitMarket(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)

	err := f.ix.HandleEvent(ctx, &chain.MarketEntered{
		EventMeta: meta(comptrollerAddr, listBlock+1, 0),
		CToken:    debtMarketAddr,
		Account:   supplierAddr,
	})
	if err != nil {
		t.Fatalf("MarketEntered failed: %v", err)
	}

	positionID := domain.UserMarketID(chain.AddressID(supplierAddr), chain.AddressID(debtMarketAddr))
	position, err := f.userMarkets.Get(ctx, positionID)
	if err != nil {
		t.Fatalf("position missing: %v", err)
	}
	if !position.EnteredMarket {
		t.Error("EnteredMarket should be set")
	}

	err = f.ix.HandleEvent(ctx, &chain.MarketExited{
		EventMeta: meta(comptrollerAddr, listBlock+2, 0),
		CToken:    debtMarketAddr,
		Account:   supplierAddr,
	})
	if err != nil {
		t.Fatalf("MarketExited failed: %v", err)
	}

	position, err = f.userMarkets.Get(ctx, positionID)
	if err != nil {
		t.Fatalf("position missing: %v", err)
	}
	if position.EnteredMarket {
		t.Error("EnteredMarket should be cleared")
	}
}

func TestNewPriceOracle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newOracle := common.HexToAddress("0x9999999999999999999999999999999999999999")
	err := f.ix.HandleEvent(ctx, &chain.NewPriceOracle{
		EventMeta:      meta(comptrollerAddr, listBlock, 0),
		NewPriceOracle: newOracle,
	})
	if err != nil {
		t.Fatalf("NewPriceOracle failed: %v", err)
	}

	protocol, err := f.protocols.Get(ctx)
	if err != nil {
		t.Fatalf("protocol row missing: %v", err)
	}
	if protocol.PriceOracleAddress != chain.AddressID(newOracle) {
		t.Errorf("PriceOracleAddress = %s", protocol.PriceOracleAddress)
	}
	if protocol.LastOracleChangeBlock != listBlock {
		t.Errorf("LastOracleChangeBlock = %d, want %d", protocol.LastOracleChangeBlock, listBlock)
	}
}

func TestApprovalRecordsAllowance(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)

	err := f.ix.HandleEvent(ctx, &chain.Approval{
		EventMeta: meta(debtMarketAddr, listBlock+1, 1),
		Owner:     supplierAddr,
		Spender:   counterpartyAddr,
		Amount:    mantissa(250, 8),
	})
	if err != nil {
		t.Fatalf("Approval failed: %v", err)
	}

	positionID := domain.UserMarketID(chain.AddressID(supplierAddr), chain.AddressID(debtMarketAddr))
	position, err := f.userMarkets.Get(ctx, positionID)
	if err != nil {
		t.Fatalf("position missing: %v", err)
	}
	if !position.ApprovalAmount.Equal(decimal.NewFromInt(250)) {
		t.Errorf("ApprovalAmount = %s, want 250", position.ApprovalAmount)
	}

	records, err := f.eventLog.GetByUserMarket(ctx, positionID)
	if err != nil {
		t.Fatalf("GetByUserMarket failed: %v", err)
	}
	if len(records) != 1 || records[0].Kind != domain.EventApproval {
		t.Errorf("Expected one approval record, got %+v", records)
	}
}

func TestNewReserveFactor(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)

	err := f.ix.HandleEvent(ctx, &chain.NewReserveFactor{
		EventMeta:                meta(debtMarketAddr, listBlock+1, 0),
		NewReserveFactorMantissa: mantissa(1, 17), // 0.1
	})
	if err != nil {
		t.Fatalf("NewReserveFactor failed: %v", err)
	}

	market, err := f.markets.Get(ctx, chain.AddressID(debtMarketAddr))
	if err != nil {
		t.Fatalf("market row missing: %v", err)
	}
	if !market.ReserveFactor.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("ReserveFactor = %s, want 0.1", market.ReserveFactor)
	}
}

func TestDuplicateEventRecordIsDropped(t *testing.T) {
	f := newFixture(t)
	f.seedChain()
	ctx := context.Background()

	f.listMarket(t, debtMarketAddr, 0)

	state := f.reader.Market(debtMarketAddr)
	state.Balances[supplierAddr] = mantissa(1000, 8)
	state.BorrowBalances[supplierAddr] = big.NewInt(0)

	mint := &chain.Mint{
		EventMeta:  meta(debtMarketAddr, listBlock+1, 1),
		Minter:     supplierAddr,
		MintAmount: mantissa(2000, 6),
		MintTokens: mantissa(1000, 8),
	}

	if err := f.ix.HandleEvent(ctx, mint); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	// Re-delivery after a restart: same (tx, log index), counted and dropped.
	if err := f.ix.HandleEvent(ctx, mint); err != nil {
		t.Fatalf("re-delivered event should not fail: %v", err)
	}

	positionID := domain.UserMarketID(chain.AddressID(supplierAddr), chain.AddressID(debtMarketAddr))
	records, err := f.eventLog.GetByUserMarket(ctx, positionID)
	if err != nil {
		t.Fatalf("GetByUserMarket failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 record after re-delivery, got %d", len(records))
	}
}

func TestUnknownMarketEventsAreSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unknown := common.HexToAddress("0x8888888888888888888888888888888888888888")
	err := f.ix.HandleEvent(ctx, &chain.Mint{
		EventMeta:  meta(unknown, listBlock, 0),
		Minter:     supplierAddr,
		MintAmount: mantissa(1, 6),
		MintTokens: mantissa(1, 8),
	})
	if err != nil {
		t.Fatalf("event for unknown market should be skipped: %v", err)
	}

	if _, err := f.users.Get(ctx, chain.AddressID(supplierAddr)); err == nil {
		t.Error("no user should be created for an unknown market")
	}
}
