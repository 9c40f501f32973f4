package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/notification"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/protocol"
	"github.com/amirphl/cross-trader/internal/traderr"
)

func init() {
	Register("spread-quoter", NewSpreadQuoter)
}

// Quoter-specific property keys.
const (
	KeyQuoteSize     = "quote_size"
	KeyQuoteSpread   = "quote_spread"
	KeyMaxLiveOrders = "max_live_orders"
)

var defaultQuoteSpread = decimal.RequireFromString("0.002")

// SpreadQuoter rests one limit order on each permitted side of the book, a
// configured fraction away from mid. Its tracker replaces quotes that expire
// or drift past the risk rate; the hedge job's restrictions gate which sides
// it may quote.
type SpreadQuoter struct {
	deps Deps
	log  *logrus.Entry

	symbol     string
	quoteSize  decimal.Decimal
	spread     decimal.Decimal
	maxLive    int64
	instrument *order.Instrument // resolved lazily from exchange info
}

// NewSpreadQuoter validates the strategy's properties and binds it to the
// first configured symbol.
func NewSpreadQuoter(deps Deps) (Strategy, error) {
	if len(deps.Config.Symbols) == 0 {
		return nil, traderr.New(traderr.KindConfig, "strategy %s has no symbols", deps.Config.Name)
	}
	size, err := deps.Config.Props.Decimal(KeyQuoteSize, decimal.Zero)
	if err != nil {
		return nil, err
	}
	if !size.IsPositive() {
		return nil, traderr.New(traderr.KindConfig, "strategy %s needs a positive %s", deps.Config.Name, KeyQuoteSize)
	}
	spread, err := deps.Config.Props.Decimal(KeyQuoteSpread, defaultQuoteSpread)
	if err != nil {
		return nil, err
	}
	maxLive, err := deps.Config.Props.Int(KeyMaxLiveOrders, 2)
	if err != nil {
		return nil, err
	}

	return &SpreadQuoter{
		deps:      deps,
		log:       logrus.WithField("component", "strategy").WithField("strategy", deps.Config.Name),
		symbol:    deps.Config.Symbols[0],
		quoteSize: size,
		spread:    spread,
		maxLive:   maxLive,
	}, nil
}

func (s *SpreadQuoter) Name() string { return s.deps.Config.Name }

// Run is one quoting step: top up whichever permitted sides have no resting
// quote. Polling the live quotes is the coordinator's track loop's job, so
// this step never competes with it for the tracker.
func (s *SpreadQuoter) Run(ctx context.Context) error {
	inst, err := s.resolveInstrument(ctx)
	if err != nil {
		return err
	}

	live := s.deps.Tracker.Live()
	if int64(len(live)) >= s.maxLive {
		return nil
	}
	quoted := make(map[order.Side]bool, len(live))
	for _, to := range live {
		quoted[to.Order.Side] = true
	}

	depth, err := s.depth(ctx)
	if err != nil {
		return err
	}
	bid, err := depth.BestBid()
	if err != nil {
		return err
	}
	ask, err := depth.BestAsk()
	if err != nil {
		return err
	}
	mid := bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))

	for _, side := range []order.Side{order.Buy, order.Sell} {
		if quoted[side] {
			continue
		}
		restriction := s.deps.Restrictions.Get(s.deps.Adapter.Name(), s.symbol)
		if !restriction.Allows(side) {
			s.log.Debugf("side %s blocked by restriction %q", side, restriction)
			continue
		}
		if err := s.quote(ctx, *inst, side, mid); err != nil {
			s.log.Warnf("quote %s failed: %v", side, err)
		}
	}
	return nil
}

func (s *SpreadQuoter) quote(ctx context.Context, inst order.Instrument, side order.Side, mid decimal.Decimal) error {
	offset := mid.Mul(s.spread)
	price := mid.Sub(offset)
	if side == order.Sell {
		price = mid.Add(offset)
	}
	o := order.Order{
		Instrument: inst,
		Side:       side,
		Type:       order.LimitGTC,
		Quantity:   inst.RoundQty(s.quoteSize),
		Price:      price,
		ClientID:   order.NewClientID(),
	}
	_, err := s.deps.Tracker.Submit(ctx, o)
	return err
}

// Notify reacts to fill events for this strategy's orders.
func (s *SpreadQuoter) Notify(ctx context.Context, n notification.Notification) error {
	if n.Kind != notification.KindTrade || n.Trade == nil {
		return nil
	}
	s.log.Infof("fill on %s: %s at %s (%s)", n.Trade.ClientID, n.Trade.FilledQty, n.Trade.AvgPrice, n.Trade.Status)
	if n.Trade.Status == order.StatusFilled && s.deps.Notifier != nil {
		msg := fmt.Sprintf("%s: order %s fully filled, %s at %s",
			s.Name(), n.Trade.ClientID, n.Trade.FilledQty, n.Trade.AvgPrice)
		if err := s.deps.Notifier.SendWithRetry(msg); err != nil {
			s.log.Warnf("fill alert not delivered: %v", err)
		}
	}
	return nil
}

func (s *SpreadQuoter) resolveInstrument(ctx context.Context) (*order.Instrument, error) {
	if s.instrument != nil {
		return s.instrument, nil
	}
	msg := s.deps.Adapter.Process(ctx, protocol.Action{
		Kind:     protocol.ActionGetExchangeInfo,
		Strategy: s.Name(),
		Symbol:   s.symbol,
	})
	if !msg.OK() {
		return nil, msg.Err
	}
	s.instrument = &order.Instrument{
		Name:        s.symbol,
		VenueSymbol: msg.Info.Symbol,
		Precision:   msg.Info.SizePrecision,
	}
	return s.instrument, nil
}

func (s *SpreadQuoter) depth(ctx context.Context) (*market.OrderBook, error) {
	msg := s.deps.Adapter.Process(ctx, protocol.Action{
		Kind:     protocol.ActionGetDepth,
		Strategy: s.Name(),
		Symbol:   s.symbol,
	})
	if !msg.OK() {
		return nil, msg.Err
	}
	return msg.Depth, nil
}
