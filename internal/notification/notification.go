// Package notification
package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/amirphl/cross-trader/internal/order"
)

// Kind discriminates the event carried by a Notification.
type Kind string

const (
	KindTrade  Kind = "trade"
	KindText   Kind = "text"
	KindCustom Kind = "custom"
)

// Notification is a tagged event scoped by strategy name and venue account.
// Delivery is at-most-once per underlying venue event; ordering is preserved
// per venue connection, not globally.
type Notification struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Strategy string    `json:"strategy"`
	Account  string    `json:"account"`
	Time     time.Time `json:"time"`

	// Trade is set for KindTrade.
	Trade *order.CurrentOrder `json:"trade,omitempty"`
	// Text is set for KindText.
	Text string `json:"text,omitempty"`
	// Custom is set for KindCustom.
	Custom map[string]any `json:"custom,omitempty"`
}

// NewTrade builds a fill notification.
func NewTrade(strategy, account string, cur order.CurrentOrder) Notification {
	return Notification{
		ID:       uuid.NewString(),
		Kind:     KindTrade,
		Strategy: strategy,
		Account:  account,
		Time:     time.Now().UTC(),
		Trade:    &cur,
	}
}

// NewText builds a text/alert notification.
func NewText(strategy, account, text string) Notification {
	return Notification{
		ID:       uuid.NewString(),
		Kind:     KindText,
		Strategy: strategy,
		Account:  account,
		Time:     time.Now().UTC(),
		Text:     text,
	}
}

// Sink accepts notifications for recording or alerting. Implementations must
// not block the emitting path; failures are reported through the error only.
type Sink interface {
	Notify(n Notification) error
}
