// Package venue
package venue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	wallex "github.com/wallexchange/wallex-go"

	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/notification"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/protocol"
	"github.com/amirphl/cross-trader/internal/traderr"
)

// Wallex adapts the Wallex REST API and its trade broadcaster to the action
// protocol. Orders go over REST; per-symbol websocket feeds forward market
// trades as custom notifications onto the registered queue.
type Wallex struct {
	name   string
	client *wallex.Client

	makerFee decimal.Decimal
	takerFee decimal.Decimal

	mu      sync.RWMutex
	alive   bool
	queue   chan<- notification.Notification
	feeds   map[string]*TradeFeed // keyed by venue symbol
	// venueIDs maps our client order ids to the ids Wallex assigns at
	// placement; Order and CancelOrder only accept the latter.
	venueIDs map[string]string
	symbols  map[string]string // logical symbol -> owning strategy
	feedCtx context.Context
	cancel  context.CancelFunc
}

// NewWallex creates a Wallex adapter for one account.
func NewWallex(name, apiKey string, makerFee, takerFee decimal.Decimal) *Wallex {
	return &Wallex{
		name:     name,
		client:   wallex.New(wallex.ClientOptions{APIKey: apiKey}),
		makerFee: makerFee,
		takerFee: takerFee,
		feeds:    make(map[string]*TradeFeed),
		venueIDs: make(map[string]string),
		symbols:  make(map[string]string),
	}
}

func (w *Wallex) Name() string { return w.name }

func (w *Wallex) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.alive {
		return traderr.New(traderr.KindLifecycle, "venue %s already started", w.name)
	}
	w.feedCtx, w.cancel = context.WithCancel(ctx)
	w.alive = true
	return nil
}

func (w *Wallex) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.alive {
		return nil
	}
	w.alive = false
	if w.cancel != nil {
		w.cancel()
	}
	for _, f := range w.feeds {
		f.Close()
	}
	w.feeds = make(map[string]*TradeFeed)
	return nil
}

func (w *Wallex) IsAlive() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.alive
}

func (w *Wallex) MakerFeeRate() decimal.Decimal { return w.makerFee }
func (w *Wallex) TakerFeeRate() decimal.Decimal { return w.takerFee }

// Process implements the action protocol. Synchronous kinds block on the REST
// call; asynchronous kinds resolve a Pending from a worker goroutine.
func (w *Wallex) Process(ctx context.Context, a protocol.Action) protocol.Message {
	if !w.IsAlive() {
		return protocol.Fail(a.Kind, traderr.New(traderr.KindLifecycle, "venue %s not started", w.name))
	}

	switch a.Kind {
	case protocol.ActionGetPositions:
		return w.getPositions(ctx)
	case protocol.ActionGetBalances:
		return w.getBalances(ctx)
	case protocol.ActionGetExchangeInfo:
		return w.getExchangeInfo(ctx, a.Symbol)
	case protocol.ActionGetDepth:
		return w.getDepth(ctx, a.Symbol)
	case protocol.ActionPlaceOrder:
		return w.placeOrder(ctx, a)
	case protocol.ActionCancelOrder:
		return w.cancelOrder(ctx, a.Kind, a.ClientID)
	case protocol.ActionPlaceOrderAsync:
		p := protocol.NewPending(a.Kind)
		go p.Resolve(w.placeOrder(ctx, a))
		return protocol.Message{Kind: a.Kind, Pending: p}
	case protocol.ActionGetByClientID:
		p := protocol.NewPending(a.Kind)
		go p.Resolve(w.getByClientID(ctx, a.ClientID))
		return protocol.Message{Kind: a.Kind, Pending: p}
	case protocol.ActionCancelByClientID:
		p := protocol.NewPending(a.Kind)
		go p.Resolve(w.cancelOrder(ctx, a.Kind, a.ClientID))
		return protocol.Message{Kind: a.Kind, Pending: p}
	case protocol.ActionRegisterSymbol:
		return w.registerSymbol(a)
	case protocol.ActionUnregisterSymbol:
		return w.unregisterSymbol(a)
	case protocol.ActionRegisterQueue:
		w.mu.Lock()
		w.queue = a.Queue
		w.mu.Unlock()
		return protocol.Message{Kind: a.Kind}
	default:
		return protocol.Unsupported(a.Kind)
	}
}

func (w *Wallex) getBalances(ctx context.Context) protocol.Message {
	var wallexBalances map[string]*wallex.Balance
	err := retry(w.name, 3, 2*time.Second, func() error {
		var err error
		wallexBalances, err = w.client.Balances()
		if err != nil {
			return fmt.Errorf("fetching balances: %w", err)
		}
		return nil
	})
	if err != nil {
		return protocol.FailVenue(protocol.ActionGetBalances, err)
	}

	balances := make(map[string]market.Balance, len(wallexBalances))
	for asset, wb := range wallexBalances {
		available := toDecimal(&wb.Value)
		locked := toDecimal(&wb.Locked)
		balances[asset] = market.Balance{
			Asset:     asset,
			Available: available,
			Locked:    locked,
			Total:     available.Add(locked),
			Fiat:      wb.Fiat,
		}
	}
	return protocol.Message{Kind: protocol.ActionGetBalances, Balances: balances}
}

// getPositions reports the base-asset balance of every registered symbol as a
// signed position. On a spot venue shorts never appear; the hedging job still
// folds these into its per-instrument groups.
func (w *Wallex) getPositions(ctx context.Context) protocol.Message {
	msg := w.getBalances(ctx)
	if !msg.OK() {
		return protocol.Message{Kind: protocol.ActionGetPositions, Err: msg.Err}
	}

	w.mu.RLock()
	symbols := make([]string, 0, len(w.symbols))
	for sym := range w.symbols {
		symbols = append(symbols, sym)
	}
	w.mu.RUnlock()
	sort.Strings(symbols)

	now := time.Now().UTC()
	positions := make([]market.Position, 0, len(symbols))
	for _, sym := range symbols {
		base := ExtractBaseCurrency(sym)
		bal, ok := msg.Balances[base]
		if !ok {
			continue
		}
		positions = append(positions, market.Position{
			Account:   w.name,
			Symbol:    sym,
			Quantity:  bal.Total,
			Timestamp: now,
		})
	}
	return protocol.Message{Kind: protocol.ActionGetPositions, Positions: positions}
}

func (w *Wallex) getExchangeInfo(ctx context.Context, symbol string) protocol.Message {
	var markets []*wallex.Market
	err := retry(w.name, 3, 2*time.Second, func() error {
		var err error
		markets, err = w.client.Markets()
		if err != nil {
			return fmt.Errorf("fetching markets: %w", err)
		}
		return nil
	})
	if err != nil {
		return protocol.FailVenue(protocol.ActionGetExchangeInfo, err)
	}

	normalized := NormalizeSymbol(symbol)
	for _, m := range markets {
		if m.Symbol != normalized {
			continue
		}
		info := market.ExchangeInfo{
			Symbol:        symbol,
			SizePrecision: 8,
			TickSize:      decimal.New(1, -8),
		}
		return protocol.Message{Kind: protocol.ActionGetExchangeInfo, Info: &info}
	}
	return protocol.Fail(protocol.ActionGetExchangeInfo,
		traderr.New(traderr.KindVenue, "unknown symbol %s on %s", symbol, w.name))
}

func (w *Wallex) getDepth(ctx context.Context, symbol string) protocol.Message {
	var asks, bids []*wallex.MarketOrder
	err := retry(w.name, 3, 2*time.Second, func() error {
		var err error
		asks, bids, err = w.client.MarketOrders(NormalizeSymbol(symbol))
		if err != nil {
			return fmt.Errorf("fetching orderbook: %w", err)
		}
		return nil
	})
	if err != nil {
		return protocol.FailVenue(protocol.ActionGetDepth, err)
	}

	book := market.OrderBook{Symbol: symbol, Timestamp: time.Now().UTC()}
	for _, ask := range asks {
		book.Asks = append(book.Asks, market.Level{
			Price:    toDecimal(&ask.Price),
			Quantity: toDecimal(&ask.Quantity),
		})
	}
	for _, bid := range bids {
		book.Bids = append(book.Bids, market.Level{
			Price:    toDecimal(&bid.Price),
			Quantity: toDecimal(&bid.Quantity),
		})
	}
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price.LessThan(book.Asks[j].Price) })
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price.GreaterThan(book.Bids[j].Price) })
	return protocol.Message{Kind: protocol.ActionGetDepth, Depth: &book}
}

func (w *Wallex) placeOrder(ctx context.Context, a protocol.Action) protocol.Message {
	if a.Order == nil {
		return protocol.Fail(a.Kind, traderr.New(traderr.KindProtocol, "%s without order payload", a.Kind))
	}
	if err := a.Order.Validate(); err != nil {
		return protocol.Fail(a.Kind, traderr.Wrap(traderr.KindProtocol, err, "invalid order"))
	}

	params := &wallex.OrderParams{
		Symbol:   NormalizeSymbol(a.Order.Instrument.VenueSymbol),
		Type:     wallexOrderType(a.Order.Type),
		Side:     wallexSide(a.Order.Side),
		Price:    wallex.Number(a.Order.Price.String()),
		Quantity: wallex.Number(a.Order.Quantity.String()),
		ClientID: a.Order.ClientID,
	}
	resp, err := w.client.PlaceOrder(params)
	if err != nil {
		return protocol.FailVenue(a.Kind, err)
	}

	w.mu.Lock()
	w.venueIDs[a.Order.ClientID] = resp.ClientOrderID
	w.mu.Unlock()

	cur := order.CurrentOrder{
		OrderID:   resp.ClientOrderID,
		ClientID:  a.Order.ClientID,
		Status:    order.Status(resp.Status),
		FilledQty: toDecimal(resp.ExecutedQty),
		AvgPrice:  toDecimal(resp.ExecutedPrice),
		UpdatedAt: resp.CreatedAt.UTC(),
	}
	return protocol.Message{Kind: a.Kind, Order: &cur}
}

func (w *Wallex) getByClientID(ctx context.Context, clientID string) protocol.Message {
	venueID, ok := w.venueID(clientID)
	if !ok {
		return protocol.Fail(protocol.ActionGetByClientID,
			traderr.New(traderr.KindVenue, "no venue order for client id %s on %s", clientID, w.name))
	}
	resp, err := w.client.Order(venueID)
	if err != nil {
		return protocol.FailVenue(protocol.ActionGetByClientID, err)
	}
	cur := order.CurrentOrder{
		OrderID:   resp.ClientOrderID,
		ClientID:  clientID,
		Status:    order.Status(resp.Status),
		FilledQty: toDecimal(resp.ExecutedQty),
		AvgPrice:  toDecimal(resp.ExecutedPrice),
		UpdatedAt: resp.CreatedAt.UTC(),
	}
	return protocol.Message{Kind: protocol.ActionGetByClientID, Order: &cur}
}

// cancelOrder cancels by client id. Cancelling an order that already reached
// a terminal state reports that state instead of an error.
func (w *Wallex) cancelOrder(ctx context.Context, kind protocol.ActionKind, clientID string) protocol.Message {
	venueID, ok := w.venueID(clientID)
	if !ok {
		return protocol.Fail(kind,
			traderr.New(traderr.KindVenue, "no venue order for client id %s on %s", clientID, w.name))
	}
	if err := w.client.CancelOrder(venueID); err != nil {
		msg := w.getByClientID(ctx, clientID)
		if msg.OK() && msg.Order != nil && msg.Order.Status.Terminal() {
			out := *msg.Order
			return protocol.Message{Kind: kind, Order: &out}
		}
		return protocol.FailVenue(kind, err)
	}
	msg := w.getByClientID(ctx, clientID)
	if !msg.OK() {
		return protocol.Message{Kind: kind, Err: msg.Err}
	}
	out := *msg.Order
	return protocol.Message{Kind: kind, Order: &out}
}

// registerSymbol starts the trade feed for the symbol. Re-adding an
// already-registered symbol is a no-op success.
func (w *Wallex) registerSymbol(a protocol.Action) protocol.Message {
	normalized := NormalizeSymbol(a.Symbol)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.feeds[normalized]; exists {
		return protocol.Message{Kind: a.Kind}
	}
	w.symbols[a.Symbol] = a.Strategy
	feed := NewTradeFeed(w.name, a.Strategy, a.Symbol, w.queue)
	w.feeds[normalized] = feed
	feed.Start(w.feedCtx)
	return protocol.Message{Kind: a.Kind}
}

func (w *Wallex) unregisterSymbol(a protocol.Action) protocol.Message {
	normalized := NormalizeSymbol(a.Symbol)
	w.mu.Lock()
	defer w.mu.Unlock()
	if feed, exists := w.feeds[normalized]; exists {
		feed.Close()
		delete(w.feeds, normalized)
	}
	delete(w.symbols, a.Symbol)
	return protocol.Message{Kind: a.Kind}
}

func (w *Wallex) venueID(clientID string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	id, ok := w.venueIDs[clientID]
	return id, ok
}

func wallexSide(s order.Side) string {
	if s == order.Buy {
		return "BUY"
	}
	return "SELL"
}

func wallexOrderType(t order.Type) string {
	switch t {
	case order.Market:
		return "MARKET"
	default:
		return "LIMIT"
	}
}

// toDecimal safely converts a *wallex.Number.
func toDecimal(n *wallex.Number) decimal.Decimal {
	if n == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(string(*n))
	if err != nil {
		return decimal.Zero
	}
	return d
}
