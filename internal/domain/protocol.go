package domain

import "github.com/shopspring/decimal"

// Protocol is the singleton protocol-wide rollup, keyed by ProtocolID.
type Protocol struct {
	ID string

	PriceOracleAddress    string
	LastOracleChangeBlock int64
	LatestBlockNumber     int64

	// Markets holds market ids in listing order, no duplicates.
	Markets []string

	TotalSupplyUsd   decimal.Decimal
	TotalBorrowUsd   decimal.Decimal
	TotalReservesUsd decimal.Decimal
	Utilization      decimal.Decimal
}

// NewProtocol returns a protocol row with zeroed totals.
func NewProtocol(priceOracleAddress string, blockNumber int64) *Protocol {
	return &Protocol{
		ID:                    ProtocolID,
		PriceOracleAddress:    priceOracleAddress,
		LastOracleChangeBlock: blockNumber,
		LatestBlockNumber:     blockNumber,
		Markets:               []string{},
		TotalSupplyUsd:        decimal.Zero,
		TotalBorrowUsd:        decimal.Zero,
		TotalReservesUsd:      decimal.Zero,
		Utilization:           decimal.Zero,
	}
}

// AddMarket appends a market id, keeping the list duplicate-free.
func (p *Protocol) AddMarket(marketID string) {
	for _, id := range p.Markets {
		if id == marketID {
			return
		}
	}
	p.Markets = append(p.Markets, marketID)
}
