// Package tracker implements the stop/replace lifecycle for orders a strategy
// has submitted. Once the venue acknowledges an order, the tracker polls it,
// cancels and re-submits the unfilled remainder as a market order when the
// order outlives its allotted time or the opposing book moves through the
// configured risk rate, and reports terminal state to the order store.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/protocol"
	"github.com/amirphl/cross-trader/internal/traderr"
	"github.com/amirphl/cross-trader/internal/venue"
)

var trackerLog = logrus.WithField("component", "tracker")

// State of a tracked order.
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StateLive      State = "LIVE"
	StateReplaced  State = "REPLACED"
	StateCancelled State = "CANCELLED"
	StateFilled    State = "FILLED"
)

// TrackedOrder wraps one live order with its venue-reported state, submission
// time, and the replace-generation counter that derives successor client ids.
type TrackedOrder struct {
	Order       order.Order
	Current     *order.CurrentOrder
	SubmittedAt time.Time
	Generation  int
	State       State

	// pendingReplace holds a replacement that could not be submitted because
	// of a venue failure; it is retried on the next track pass.
	pendingReplace *order.Order
}

func (t *TrackedOrder) filledQty() decimal.Decimal {
	if t.Current == nil {
		return decimal.Zero
	}
	return t.Current.FilledQty
}

// Config holds the tracking parameters, usually sourced from the owning
// strategy's property map.
type Config struct {
	OrderAliveTime   time.Duration
	OrderRiskRate    decimal.Decimal
	MinOrderQuantity decimal.Decimal
	// SubmitTimeout bounds the wait for the venue's placement acknowledgment.
	SubmitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 5 * time.Second
	}
	return c
}

// Tracker owns the live orders of one strategy on one venue. Submit and Track
// may be called from different goroutines; the live set is synchronized
// internally.
type Tracker struct {
	adapter  venue.Adapter
	strategy string
	cfg      Config
	store    order.Store // optional, nil disables persistence

	mu   sync.Mutex
	live map[string]*TrackedOrder // keyed by base token
	now  func() time.Time

	// trackMu serializes whole track passes so two concurrent callers never
	// double-cancel or double-replace the same order.
	trackMu sync.Mutex
}

// New creates a tracker bound to one strategy and one venue adapter.
func New(adapter venue.Adapter, strategy string, cfg Config, store order.Store) *Tracker {
	return &Tracker{
		adapter:  adapter,
		strategy: strategy,
		cfg:      cfg.withDefaults(),
		store:    store,
		live:     make(map[string]*TrackedOrder),
		now:      time.Now,
	}
}

// Submit places an order asynchronously and records it once the venue
// acknowledges. A rejected or timed-out placement is discarded and reported;
// there is no retry at this layer.
func (t *Tracker) Submit(ctx context.Context, o order.Order) (*TrackedOrder, error) {
	if o.ClientID == "" {
		o.ClientID = order.NewClientID()
	}
	msg := t.adapter.Process(ctx, protocol.Action{
		Kind:     protocol.ActionPlaceOrderAsync,
		Strategy: t.strategy,
		Symbol:   o.Instrument.VenueSymbol,
		Order:    &o,
	})
	if !msg.OK() {
		return nil, msg.Err
	}
	if msg.Pending == nil {
		return nil, traderr.New(traderr.KindProtocol, "%s returned no pending handle", msg.Kind)
	}
	res, err := msg.Pending.AwaitTimeout(ctx, t.cfg.SubmitTimeout)
	if err != nil {
		msg.Pending.Cancel()
		return nil, traderr.Wrap(traderr.KindVenue, err, "placement of %s not acknowledged", o.ClientID)
	}
	if !res.OK() {
		return nil, res.Err
	}

	to := &TrackedOrder{
		Order:       o,
		Current:     res.Order,
		SubmittedAt: t.now(),
		State:       StateLive,
	}
	t.mu.Lock()
	t.live[order.BaseToken(o.ClientID)] = to
	t.mu.Unlock()

	t.persistSave(ctx, to)
	trackerLog.Infof("submitted %s %s %s %s@%s", t.strategy, o.Side, o.Instrument.Name, o.Quantity, o.Price)
	return to, nil
}

// Track runs one poll pass over every live order. Venue failures are logged
// and retried on the next pass; they never drop a tracked order. Passes are
// serialized: a Track that starts while another is in flight waits its turn.
func (t *Tracker) Track(ctx context.Context) {
	t.trackMu.Lock()
	defer t.trackMu.Unlock()
	for token, to := range t.snapshot() {
		t.trackOne(ctx, token, to)
	}
}

// Live returns a snapshot of the live set for inspection.
func (t *Tracker) Live() []TrackedOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedOrder, 0, len(t.live))
	for _, to := range t.live {
		out = append(out, *to)
	}
	return out
}

func (t *Tracker) snapshot() map[string]*TrackedOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*TrackedOrder, len(t.live))
	for k, v := range t.live {
		out[k] = v
	}
	return out
}

func (t *Tracker) trackOne(ctx context.Context, token string, to *TrackedOrder) {
	// A replacement stranded by an earlier venue failure takes priority.
	t.mu.Lock()
	stranded := to.pendingReplace != nil
	t.mu.Unlock()
	if stranded {
		t.retryReplace(ctx, token, to)
		return
	}

	// Refresh before acting so a just-filled order is never cancelled.
	cur, err := t.fetchCurrent(ctx, to.Order.ClientID)
	if err != nil {
		trackerLog.Warnf("status refresh for %s failed, retrying next pass: %v", to.Order.ClientID, err)
		return
	}
	t.mu.Lock()
	to.Current = cur
	t.mu.Unlock()

	if cur.Status == order.StatusFilled {
		t.finish(ctx, token, to, StateFilled)
		return
	}
	if cur.Status == order.StatusCanceled {
		t.finish(ctx, token, to, StateCancelled)
		return
	}

	if t.expired(to) {
		trackerLog.Infof("order %s outlived %v, replacing", to.Order.ClientID, t.cfg.OrderAliveTime)
		t.replaceWithMarket(ctx, token, to)
		return
	}

	adverse, err := t.adversePrice(ctx, to)
	if err != nil {
		trackerLog.Warnf("depth check for %s failed, retrying next pass: %v", to.Order.ClientID, err)
		return
	}
	if adverse {
		trackerLog.Infof("order %s moved past risk rate %s, replacing", to.Order.ClientID, t.cfg.OrderRiskRate)
		t.replaceWithMarket(ctx, token, to)
	}
}

func (t *Tracker) expired(to *TrackedOrder) bool {
	if t.cfg.OrderAliveTime <= 0 {
		return false
	}
	return t.now().Sub(to.SubmittedAt) > t.cfg.OrderAliveTime
}

// adversePrice compares the opposing top of book against the resting price.
// For a buy the ask running away upward beyond order_risk_rate is adverse;
// for a sell, the bid running away downward.
func (t *Tracker) adversePrice(ctx context.Context, to *TrackedOrder) (bool, error) {
	if to.Order.Type == order.Market || !t.cfg.OrderRiskRate.IsPositive() {
		return false, nil
	}
	msg := t.adapter.Process(ctx, protocol.Action{
		Kind:     protocol.ActionGetDepth,
		Strategy: t.strategy,
		Symbol:   to.Order.Instrument.VenueSymbol,
	})
	if !msg.OK() {
		return false, msg.Err
	}

	var move decimal.Decimal
	if to.Order.Side == order.Buy {
		ask, err := msg.Depth.BestAsk()
		if err != nil {
			return false, err
		}
		move = ask.Price.Sub(to.Order.Price).Div(to.Order.Price)
	} else {
		bid, err := msg.Depth.BestBid()
		if err != nil {
			return false, err
		}
		move = to.Order.Price.Sub(bid.Price).Div(to.Order.Price)
	}
	return move.GreaterThan(t.cfg.OrderRiskRate), nil
}

// replaceWithMarket cancels the current order and re-submits the unfilled
// remainder as a market order under a generation-incremented client id. The
// remainder is derived from the fill amount the cancel confirms, truncated to
// instrument precision; below the minimum quantity the order is closed out
// without a successor.
func (t *Tracker) replaceWithMarket(ctx context.Context, token string, to *TrackedOrder) {
	cur, err := t.cancel(ctx, to.Order.ClientID)
	if err != nil {
		trackerLog.Warnf("cancel of %s failed, retrying next pass: %v", to.Order.ClientID, err)
		return
	}
	t.mu.Lock()
	to.Current = cur
	t.mu.Unlock()

	// The cancel may have raced a fill.
	if cur.Status == order.StatusFilled {
		t.finish(ctx, token, to, StateFilled)
		return
	}

	remaining := to.Order.Instrument.RoundQty(to.Order.Quantity.Sub(cur.FilledQty))
	if !remaining.IsPositive() || remaining.LessThan(t.cfg.MinOrderQuantity) {
		trackerLog.Infof("remainder %s of %s below minimum, closing out", remaining, to.Order.ClientID)
		t.finish(ctx, token, to, StateCancelled)
		return
	}

	next := to.Order
	next.Type = order.Market
	next.Quantity = remaining
	next.Price = decimal.Zero
	next.ClientID = order.ReplacementID(token, to.Generation+1)

	t.mu.Lock()
	to.State = StateReplaced
	to.pendingReplace = &next
	t.mu.Unlock()
	t.retryReplace(ctx, token, to)
}

// retryReplace submits a prepared replacement. On venue failure the
// replacement stays pending and is retried next pass.
func (t *Tracker) retryReplace(ctx context.Context, token string, to *TrackedOrder) {
	t.mu.Lock()
	if to.pendingReplace == nil {
		t.mu.Unlock()
		return
	}
	next := *to.pendingReplace
	t.mu.Unlock()
	msg := t.adapter.Process(ctx, protocol.Action{
		Kind:     protocol.ActionPlaceOrderAsync,
		Strategy: t.strategy,
		Symbol:   next.Instrument.VenueSymbol,
		Order:    &next,
	})
	if !msg.OK() || msg.Pending == nil {
		trackerLog.Warnf("replacement %s not accepted, retrying next pass: %v", next.ClientID, msg.Err)
		return
	}
	res, err := msg.Pending.AwaitTimeout(ctx, t.cfg.SubmitTimeout)
	if err != nil {
		msg.Pending.Cancel()
		trackerLog.Warnf("replacement %s not acknowledged, retrying next pass: %v", next.ClientID, err)
		return
	}
	if !res.OK() {
		trackerLog.Warnf("replacement %s rejected, retrying next pass: %v", next.ClientID, res.Err)
		return
	}

	t.persistClose(ctx, to.Order.ClientID)
	t.mu.Lock()
	to.pendingReplace = nil
	to.Order = next
	to.Current = res.Order
	to.SubmittedAt = t.now()
	to.Generation++
	to.State = StateLive
	t.mu.Unlock()
	t.persistSave(ctx, to)
	trackerLog.Infof("replaced with %s for %s units", next.ClientID, next.Quantity)
}

func (t *Tracker) fetchCurrent(ctx context.Context, clientID string) (*order.CurrentOrder, error) {
	msg := t.adapter.Process(ctx, protocol.Action{
		Kind:     protocol.ActionGetByClientID,
		Strategy: t.strategy,
		ClientID: clientID,
	})
	if !msg.OK() {
		return nil, msg.Err
	}
	if msg.Pending == nil {
		return nil, traderr.New(traderr.KindProtocol, "%s returned no pending handle", msg.Kind)
	}
	res, err := msg.Pending.AwaitTimeout(ctx, t.cfg.SubmitTimeout)
	if err != nil {
		msg.Pending.Cancel()
		return nil, err
	}
	if !res.OK() {
		return nil, res.Err
	}
	return res.Order, nil
}

func (t *Tracker) cancel(ctx context.Context, clientID string) (*order.CurrentOrder, error) {
	msg := t.adapter.Process(ctx, protocol.Action{
		Kind:     protocol.ActionCancelByClientID,
		Strategy: t.strategy,
		ClientID: clientID,
	})
	if !msg.OK() {
		return nil, msg.Err
	}
	if msg.Pending == nil {
		return nil, traderr.New(traderr.KindProtocol, "%s returned no pending handle", msg.Kind)
	}
	res, err := msg.Pending.AwaitTimeout(ctx, t.cfg.SubmitTimeout)
	if err != nil {
		msg.Pending.Cancel()
		return nil, err
	}
	if !res.OK() {
		return nil, res.Err
	}
	return res.Order, nil
}

func (t *Tracker) finish(ctx context.Context, token string, to *TrackedOrder, s State) {
	t.mu.Lock()
	to.State = s
	delete(t.live, token)
	t.mu.Unlock()
	t.persistClose(ctx, to.Order.ClientID)
	trackerLog.Infof("order %s finished %s with %s filled", to.Order.ClientID, s, to.filledQty())
}

func (t *Tracker) persistSave(ctx context.Context, to *TrackedOrder) {
	if t.store == nil {
		return
	}
	cur := order.CurrentOrder{ClientID: to.Order.ClientID, Status: order.StatusNew}
	if to.Current != nil {
		cur = *to.Current
	}
	if err := t.store.SaveOrder(ctx, to.Order, cur); err != nil {
		trackerLog.Warnf("order %s not persisted: %v", to.Order.ClientID, err)
	}
}

func (t *Tracker) persistClose(ctx context.Context, clientID string) {
	if t.store == nil {
		return
	}
	if err := t.store.CloseOrder(ctx, clientID); err != nil {
		trackerLog.Warnf("order %s not closed in store: %v", clientID, err)
	}
}
