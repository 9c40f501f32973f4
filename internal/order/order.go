// Package order
package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Type of an order.
type Type string

const (
	Market        Type = "market"
	Limit         Type = "limit"
	LimitIOC      Type = "limit-ioc"
	LimitGTC      Type = "limit-gtc"
	LimitPostOnly Type = "limit-post-only"
)

// Status as reported by the venue.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusPartFilled Status = "PARTIALLY_FILLED"
	StatusFilled     Status = "FILLED"
	StatusCanceled   Status = "CANCELED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled
}

// Instrument binds a logical name to a venue symbol and its size precision.
type Instrument struct {
	Name        string `json:"name"`
	VenueSymbol string `json:"venue_symbol"`
	Precision   int32  `json:"precision"`
}

// RoundQty truncates a quantity to the instrument's declared precision.
// Truncation (never rounding up) keeps replacement sizes from exceeding the
// confirmed remainder.
func (i Instrument) RoundQty(q decimal.Decimal) decimal.Decimal {
	return q.Truncate(i.Precision)
}

// Order is an immutable intent to trade. ClientID is the client-assigned
// idempotency token; replacements derive successor ids from it.
type Order struct {
	Instrument Instrument      `json:"instrument"`
	Side       Side            `json:"side"`
	Type       Type            `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ClientID   string          `json:"client_id"`
}

// Validate rejects orders that no venue would accept.
func (o Order) Validate() error {
	if o.Instrument.VenueSymbol == "" {
		return fmt.Errorf("order %s has no venue symbol", o.ClientID)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("order %s has invalid side %q", o.ClientID, o.Side)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("order %s has non-positive quantity %s", o.ClientID, o.Quantity)
	}
	if o.Type != Market && !o.Price.IsPositive() {
		return fmt.Errorf("order %s has non-positive price %s", o.ClientID, o.Price)
	}
	return nil
}

// NewClientID mints a fresh idempotency token.
func NewClientID() string {
	return uuid.NewString()
}

// ReplacementID derives the client id of the generation-th replacement from
// the original token.
func ReplacementID(token string, generation int) string {
	return fmt.Sprintf("%s_%d", token, generation)
}

// BaseToken strips any replacement suffix, recovering the original token.
func BaseToken(clientID string) string {
	if i := strings.IndexByte(clientID, '_'); i > 0 {
		return clientID[:i]
	}
	return clientID
}

// CurrentOrder is the venue-reported state of an order. A newer CurrentOrder
// for the same client id supersedes the previous one.
type CurrentOrder struct {
	OrderID   string          `json:"order_id"`
	ClientID  string          `json:"client_id"`
	Status    Status          `json:"status"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the interface for executed-order history.
type Store interface {
	SaveOrder(ctx context.Context, o Order, cur CurrentOrder) error
	GetOrder(ctx context.Context, clientID string) (Order, CurrentOrder, error)
	GetOpenOrders(ctx context.Context) ([]CurrentOrder, error)
	CloseOrder(ctx context.Context, clientID string) error
}
