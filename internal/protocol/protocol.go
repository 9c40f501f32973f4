// Package protocol
//
// The action/message envelope is the single calling convention against a venue
// adapter. Synchronous action kinds return a materialized value within the
// call; asynchronous kinds return immediately with a Pending handle that
// resolves later. No adapter call throws across this boundary: every outcome,
// including venue rejections, is a typed Message.
package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/notification"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/traderr"
)

// ActionKind discriminates the operation requested from an adapter.
type ActionKind int

const (
	// Synchronous kinds. Adapters must not block beyond a small bounded wait.
	ActionGetPositions ActionKind = iota + 1
	ActionGetBalances
	ActionGetExchangeInfo
	ActionGetDepth
	ActionPlaceOrder
	ActionCancelOrder

	// Asynchronous kinds. The Message carries a Pending handle.
	ActionPlaceOrderAsync
	ActionGetByClientID
	ActionCancelByClientID

	// Administrative kinds. Idempotent mutations of adapter subscription state.
	ActionRegisterSymbol
	ActionUnregisterSymbol
	ActionRegisterQueue
)

func (k ActionKind) String() string {
	switch k {
	case ActionGetPositions:
		return "get-positions"
	case ActionGetBalances:
		return "get-balances"
	case ActionGetExchangeInfo:
		return "get-exchange-info"
	case ActionGetDepth:
		return "get-depth"
	case ActionPlaceOrder:
		return "place-order"
	case ActionCancelOrder:
		return "cancel-order"
	case ActionPlaceOrderAsync:
		return "place-order-async"
	case ActionGetByClientID:
		return "get-by-client-id"
	case ActionCancelByClientID:
		return "cancel-by-client-id"
	case ActionRegisterSymbol:
		return "register-symbol"
	case ActionUnregisterSymbol:
		return "unregister-symbol"
	case ActionRegisterQueue:
		return "register-queue"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Async reports whether the kind resolves through a Pending handle.
func (k ActionKind) Async() bool {
	switch k {
	case ActionPlaceOrderAsync, ActionGetByClientID, ActionCancelByClientID:
		return true
	default:
		return false
	}
}

// Action is the request half of the envelope. Only the fields relevant to the
// Kind are populated. Strategy names the owner of the operation so that the
// adapter can tag push notifications for routing.
type Action struct {
	Kind     ActionKind
	Strategy string
	Symbol   string
	Order    *order.Order
	ClientID string
	Queue    chan<- notification.Notification
}

// Message is the response half. Exactly one result field matches each action
// kind; Err is set instead when the operation failed.
type Message struct {
	Kind ActionKind
	Err  error

	Order     *order.CurrentOrder
	Positions []market.Position
	Balances  map[string]market.Balance
	Depth     *market.OrderBook
	Info      *market.ExchangeInfo
	Pending   *Pending
}

// OK reports whether the message carries a result.
func (m Message) OK() bool { return m.Err == nil }

// Fail builds an error-typed message for the given kind.
func Fail(kind ActionKind, err error) Message {
	return Message{Kind: kind, Err: err}
}

// FailVenue wraps err as a venue error message.
func FailVenue(kind ActionKind, err error) Message {
	return Message{Kind: kind, Err: traderr.Wrap(traderr.KindVenue, err, "%s failed", kind)}
}

// Unsupported builds the protocol-error message for an action the adapter
// does not implement.
func Unsupported(kind ActionKind) Message {
	return Message{Kind: kind, Err: traderr.New(traderr.KindProtocol, "unsupported action %s", kind)}
}

// Pending is the handle for an asynchronous result. It resolves exactly once;
// cancellation is explicit rather than relying on an abandoned handle being
// collected.
type Pending struct {
	kind     ActionKind
	resolveC chan Message
	cancelC  chan struct{}
	once     sync.Once
	cancel   sync.Once
}

// NewPending allocates an unresolved handle for the given kind.
func NewPending(kind ActionKind) *Pending {
	return &Pending{
		kind:     kind,
		resolveC: make(chan Message, 1),
		cancelC:  make(chan struct{}),
	}
}

// Resolve delivers the result. Later calls are no-ops.
func (p *Pending) Resolve(m Message) {
	p.once.Do(func() {
		m.Kind = p.kind
		p.resolveC <- m
	})
}

// Cancel abandons the handle. A concurrent Resolve may still win; waiters
// observe whichever happened first.
func (p *Pending) Cancel() {
	p.cancel.Do(func() { close(p.cancelC) })
}

// Canceled exposes the cancellation signal to adapters that want to stop
// working on an abandoned request.
func (p *Pending) Canceled() <-chan struct{} { return p.cancelC }

// Await blocks until the handle resolves, the handle is canceled, or the
// context expires.
func (p *Pending) Await(ctx context.Context) (Message, error) {
	select {
	case m := <-p.resolveC:
		return m, nil
	case <-p.cancelC:
		return Message{}, traderr.New(traderr.KindVenue, "pending %s canceled", p.kind)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// AwaitTimeout is Await with a deadline, for callers without a context budget.
func (p *Pending) AwaitTimeout(ctx context.Context, d time.Duration) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return p.Await(ctx)
}
