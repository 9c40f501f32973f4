// Package venue
package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/notification"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/protocol"
	"github.com/amirphl/cross-trader/internal/traderr"
)

// Sim is an in-memory venue adapter. It honors the full action contract
// against purely local state, which makes it usable both as the paper-trading
// venue and as the fixture for tracker/coordinator tests. Fills never happen
// on their own; tests and paper mode drive them through Fill.
type Sim struct {
	name     string
	makerFee decimal.Decimal
	takerFee decimal.Decimal

	mu        sync.RWMutex
	alive     bool
	orders    map[string]*simOrder // keyed by client id
	books     map[string]market.OrderBook
	positions map[string]market.Position // keyed by symbol
	balances  map[string]market.Balance
	info      map[string]market.ExchangeInfo
	symbols   map[string]bool
	queue     chan<- notification.Notification
	counter   int64

	// rejectErr, when set, fails every subsequent order placement.
	rejectErr error
}

type simOrder struct {
	order    order.Order
	strategy string
	current  order.CurrentOrder
}

// NewSim creates a simulated venue with the given account name.
func NewSim(name string) *Sim {
	return &Sim{
		name:      name,
		makerFee:  decimal.NewFromFloat(0.001),
		takerFee:  decimal.NewFromFloat(0.002),
		orders:    make(map[string]*simOrder),
		books:     make(map[string]market.OrderBook),
		positions: make(map[string]market.Position),
		balances:  make(map[string]market.Balance),
		info:      make(map[string]market.ExchangeInfo),
		symbols:   make(map[string]bool),
		counter:   1000,
	}
}

func (s *Sim) Name() string { return s.name }

func (s *Sim) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive {
		return traderr.New(traderr.KindLifecycle, "venue %s already started", s.name)
	}
	s.alive = true
	return nil
}

func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
	return nil
}

func (s *Sim) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

func (s *Sim) MakerFeeRate() decimal.Decimal { return s.makerFee }
func (s *Sim) TakerFeeRate() decimal.Decimal { return s.takerFee }

// Process implements the action protocol against local state.
func (s *Sim) Process(ctx context.Context, a protocol.Action) protocol.Message {
	if !s.IsAlive() {
		return protocol.Fail(a.Kind, traderr.New(traderr.KindLifecycle, "venue %s not started", s.name))
	}

	switch a.Kind {
	case protocol.ActionGetPositions:
		return s.getPositions()
	case protocol.ActionGetBalances:
		return s.getBalances()
	case protocol.ActionGetExchangeInfo:
		return s.getExchangeInfo(a.Symbol)
	case protocol.ActionGetDepth:
		return s.getDepth(a.Symbol)
	case protocol.ActionPlaceOrder:
		return s.placeOrder(a)
	case protocol.ActionCancelOrder:
		return s.cancelByClientID(protocol.ActionCancelOrder, a.ClientID)
	case protocol.ActionPlaceOrderAsync:
		p := protocol.NewPending(a.Kind)
		p.Resolve(s.placeOrder(a))
		return protocol.Message{Kind: a.Kind, Pending: p}
	case protocol.ActionGetByClientID:
		p := protocol.NewPending(a.Kind)
		p.Resolve(s.getByClientID(a.ClientID))
		return protocol.Message{Kind: a.Kind, Pending: p}
	case protocol.ActionCancelByClientID:
		p := protocol.NewPending(a.Kind)
		p.Resolve(s.cancelByClientID(a.Kind, a.ClientID))
		return protocol.Message{Kind: a.Kind, Pending: p}
	case protocol.ActionRegisterSymbol:
		s.mu.Lock()
		s.symbols[a.Symbol] = true // re-adding is a no-op success
		s.mu.Unlock()
		return protocol.Message{Kind: a.Kind}
	case protocol.ActionUnregisterSymbol:
		s.mu.Lock()
		delete(s.symbols, a.Symbol)
		s.mu.Unlock()
		return protocol.Message{Kind: a.Kind}
	case protocol.ActionRegisterQueue:
		s.mu.Lock()
		s.queue = a.Queue
		s.mu.Unlock()
		return protocol.Message{Kind: a.Kind}
	default:
		return protocol.Unsupported(a.Kind)
	}
}

func (s *Sim) getPositions() protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]market.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return protocol.Message{Kind: protocol.ActionGetPositions, Positions: out}
}

func (s *Sim) getBalances() protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]market.Balance, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return protocol.Message{Kind: protocol.ActionGetBalances, Balances: out}
}

func (s *Sim) getExchangeInfo(symbol string) protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.info[symbol]
	if !ok {
		return protocol.Fail(protocol.ActionGetExchangeInfo,
			traderr.New(traderr.KindVenue, "venue %s has no symbol %s", s.name, symbol))
	}
	return protocol.Message{Kind: protocol.ActionGetExchangeInfo, Info: &info}
}

func (s *Sim) getDepth(symbol string) protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[symbol]
	if !ok {
		return protocol.Fail(protocol.ActionGetDepth,
			traderr.New(traderr.KindVenue, "venue %s has no depth for %s", s.name, symbol))
	}
	return protocol.Message{Kind: protocol.ActionGetDepth, Depth: &book}
}

func (s *Sim) placeOrder(a protocol.Action) protocol.Message {
	if a.Order == nil {
		return protocol.Fail(a.Kind, traderr.New(traderr.KindProtocol, "%s without order payload", a.Kind))
	}
	if err := a.Order.Validate(); err != nil {
		return protocol.Fail(a.Kind, traderr.Wrap(traderr.KindProtocol, err, "invalid order"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectErr != nil {
		return protocol.FailVenue(a.Kind, s.rejectErr)
	}
	if _, exists := s.orders[a.Order.ClientID]; exists {
		return protocol.Fail(a.Kind,
			traderr.New(traderr.KindVenue, "duplicate client order id %s", a.Order.ClientID))
	}

	s.counter++
	now := time.Now().UTC()
	cur := order.CurrentOrder{
		OrderID:   fmt.Sprintf("sim_%d", s.counter),
		ClientID:  a.Order.ClientID,
		Status:    order.StatusNew,
		FilledQty: decimal.Zero,
		UpdatedAt: now,
	}
	s.orders[a.Order.ClientID] = &simOrder{order: *a.Order, strategy: a.Strategy, current: cur}
	out := cur
	return protocol.Message{Kind: a.Kind, Order: &out}
}

func (s *Sim) getByClientID(clientID string) protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	so, ok := s.orders[clientID]
	if !ok {
		return protocol.Fail(protocol.ActionGetByClientID,
			traderr.New(traderr.KindVenue, "unknown client order id %s", clientID))
	}
	cur := so.current
	return protocol.Message{Kind: protocol.ActionGetByClientID, Order: &cur}
}

func (s *Sim) cancelByClientID(kind protocol.ActionKind, clientID string) protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.orders[clientID]
	if !ok {
		return protocol.Fail(kind, traderr.New(traderr.KindVenue, "unknown client order id %s", clientID))
	}
	// Cancelling an already-terminal order is tolerated: report current state.
	if !so.current.Status.Terminal() {
		so.current.Status = order.StatusCanceled
		so.current.UpdatedAt = time.Now().UTC()
	}
	cur := so.current
	return protocol.Message{Kind: kind, Order: &cur}
}

// ===== Test and paper-mode hooks =====

// SetBook installs an orderbook snapshot for a symbol.
func (s *Sim) SetBook(book market.OrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[book.Symbol] = book
}

// SetPosition installs a position for a symbol.
func (s *Sim) SetPosition(p market.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Account = s.name
	s.positions[p.Symbol] = p
}

// SetBalance installs an asset balance.
func (s *Sim) SetBalance(b market.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[b.Asset] = b
}

// SetExchangeInfo installs the static symbol description.
func (s *Sim) SetExchangeInfo(info market.ExchangeInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info[info.Symbol] = info
}

// SetRejectOrders makes every subsequent placement fail with err. Pass nil to
// accept orders again.
func (s *Sim) SetRejectOrders(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectErr = err
}

// Fill applies a fill to a resting order and pushes a trade notification
// tagged with the owning strategy onto the registered queue. The queue send
// blocks when the queue is full; nothing is dropped silently.
func (s *Sim) Fill(clientID string, qty decimal.Decimal) error {
	s.mu.Lock()
	so, ok := s.orders[clientID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("fill for unknown client order id %s", clientID)
	}
	if so.current.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("fill for terminal order %s", clientID)
	}
	so.current.FilledQty = so.current.FilledQty.Add(qty)
	so.current.AvgPrice = so.order.Price
	if so.current.FilledQty.GreaterThanOrEqual(so.order.Quantity) {
		so.current.FilledQty = so.order.Quantity
		so.current.Status = order.StatusFilled
	} else {
		so.current.Status = order.StatusPartFilled
	}
	so.current.UpdatedAt = time.Now().UTC()
	cur := so.current
	owner := so.strategy
	queue := s.queue
	s.mu.Unlock()

	if queue != nil {
		queue <- notification.NewTrade(owner, s.name, cur)
	}
	return nil
}

// Orders returns a snapshot of all orders the venue has seen, for assertions.
func (s *Sim) Orders() map[string]order.CurrentOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]order.CurrentOrder, len(s.orders))
	for id, so := range s.orders {
		out[id] = so.current
	}
	return out
}

// RegisteredSymbols returns the current subscription set, for assertions.
func (s *Sim) RegisteredSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}
