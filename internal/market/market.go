// Package market
package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Level is one price level of the book.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBook represents the L2 orderbook snapshot. Bids are sorted best-first
// descending, asks best-first ascending.
type OrderBook struct {
	Symbol    string    `json:"symbol"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// BestBid returns the top bid level.
func (ob OrderBook) BestBid() (Level, error) {
	if len(ob.Bids) == 0 {
		return Level{}, fmt.Errorf("orderbook %s has no bids", ob.Symbol)
	}
	return ob.Bids[0], nil
}

// BestAsk returns the top ask level.
func (ob OrderBook) BestAsk() (Level, error) {
	if len(ob.Asks) == 0 {
		return Level{}, fmt.Errorf("orderbook %s has no asks", ob.Symbol)
	}
	return ob.Asks[0], nil
}

// Balance represents an asset balance on one venue account.
type Balance struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Total     decimal.Decimal `json:"total"`
	Fiat      bool            `json:"fiat"`
}

// Position is a signed quantity held on one venue for one instrument.
// The hedging job aggregates these per rebalance cycle; only the latest
// snapshot per (account, symbol) is retained.
type Position struct {
	Account   string          `json:"account"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// ExchangeInfo is the static description of one tradable symbol.
type ExchangeInfo struct {
	Symbol        string          `json:"symbol"`
	SizePrecision int32           `json:"size_precision"`
	TickSize      decimal.Decimal `json:"tick_size"`
	MinQuantity   decimal.Decimal `json:"min_quantity"`
}
