package venue

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/protocol"
	"github.com/amirphl/cross-trader/internal/traderr"
)

func startedSim(t *testing.T) *Sim {
	t.Helper()
	s := NewSim("acct-a")
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return s
}

func place(t *testing.T, s *Sim, o order.Order) order.CurrentOrder {
	t.Helper()
	msg := s.Process(context.Background(), protocol.Action{
		Kind: protocol.ActionPlaceOrder, Strategy: "strat", Symbol: o.Instrument.VenueSymbol, Order: &o,
	})
	require.NoError(t, msg.Err)
	require.NotNil(t, msg.Order)
	return *msg.Order
}

func limitBuy(qty int64) order.Order {
	return order.Order{
		Instrument: order.Instrument{Name: "BTC-USDT", VenueSymbol: "BTCUSDT", Precision: 4},
		Side:       order.Buy,
		Type:       order.Limit,
		Quantity:   decimal.NewFromInt(qty),
		Price:      decimal.NewFromInt(100),
		ClientID:   order.NewClientID(),
	}
}

func TestSimRejectsBeforeStart(t *testing.T) {
	s := NewSim("acct-a")
	msg := s.Process(context.Background(), protocol.Action{Kind: protocol.ActionGetBalances})
	require.Error(t, msg.Err)
	assert.Equal(t, traderr.KindLifecycle, traderr.KindOf(msg.Err))
}

func TestSimUnsupportedAction(t *testing.T) {
	s := startedSim(t)
	msg := s.Process(context.Background(), protocol.Action{Kind: protocol.ActionKind(77)})
	require.Error(t, msg.Err)
	assert.Equal(t, traderr.KindProtocol, traderr.KindOf(msg.Err))
}

func TestSimDuplicateClientID(t *testing.T) {
	s := startedSim(t)
	o := limitBuy(1)
	place(t, s, o)

	msg := s.Process(context.Background(), protocol.Action{Kind: protocol.ActionPlaceOrder, Order: &o})
	require.Error(t, msg.Err)
}

func TestSimAsyncPlaceResolves(t *testing.T) {
	s := startedSim(t)
	o := limitBuy(2)
	msg := s.Process(context.Background(), protocol.Action{
		Kind: protocol.ActionPlaceOrderAsync, Strategy: "strat", Order: &o,
	})
	require.NoError(t, msg.Err)
	require.NotNil(t, msg.Pending)

	res, err := msg.Pending.Await(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, order.StatusNew, res.Order.Status)
}

func TestSimCancelTerminalOrderTolerated(t *testing.T) {
	ctx := context.Background()
	s := startedSim(t)
	o := limitBuy(2)
	place(t, s, o)
	require.NoError(t, s.Fill(o.ClientID, decimal.NewFromInt(2)))

	msg := s.Process(ctx, protocol.Action{Kind: protocol.ActionCancelByClientID, ClientID: o.ClientID})
	require.NoError(t, msg.Err)
	res, err := msg.Pending.Await(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, order.StatusFilled, res.Order.Status, "cancel must not clobber a fill")
}

func TestSimPartialFill(t *testing.T) {
	s := startedSim(t)
	o := limitBuy(10)
	place(t, s, o)

	require.NoError(t, s.Fill(o.ClientID, decimal.NewFromInt(3)))
	cur := s.Orders()[o.ClientID]
	assert.Equal(t, order.StatusPartFilled, cur.Status)
	assert.True(t, cur.FilledQty.Equal(decimal.NewFromInt(3)))

	// Overfill clamps at the order quantity.
	require.NoError(t, s.Fill(o.ClientID, decimal.NewFromInt(100)))
	cur = s.Orders()[o.ClientID]
	assert.Equal(t, order.StatusFilled, cur.Status)
	assert.True(t, cur.FilledQty.Equal(decimal.NewFromInt(10)))

	require.Error(t, s.Fill(o.ClientID, decimal.NewFromInt(1)), "terminal orders take no fills")
}

func TestSimSymbolRegistrationIdempotent(t *testing.T) {
	ctx := context.Background()
	s := startedSim(t)

	for i := 0; i < 3; i++ {
		msg := s.Process(ctx, protocol.Action{Kind: protocol.ActionRegisterSymbol, Symbol: "BTCUSDT"})
		require.NoError(t, msg.Err)
	}
	assert.Equal(t, []string{"BTCUSDT"}, s.RegisteredSymbols())

	msg := s.Process(ctx, protocol.Action{Kind: protocol.ActionUnregisterSymbol, Symbol: "BTCUSDT"})
	require.NoError(t, msg.Err)
	assert.Empty(t, s.RegisteredSymbols())
}

func TestSimDepthUnknownSymbol(t *testing.T) {
	s := startedSim(t)
	msg := s.Process(context.Background(), protocol.Action{Kind: protocol.ActionGetDepth, Symbol: "NOPE"})
	require.Error(t, msg.Err)
	assert.Equal(t, traderr.KindVenue, traderr.KindOf(msg.Err))
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("btc-usdt"))
	assert.Equal(t, "USDTTMN", NormalizeSymbol("USDTTMN"))
}

func TestExtractBaseCurrency(t *testing.T) {
	assert.Equal(t, "BTC", ExtractBaseCurrency("BTC/USDT"))
	assert.Equal(t, "BTC", ExtractBaseCurrency("BTC-USDT"))
	assert.Equal(t, "", ExtractBaseCurrency("BTCUSDT"))
}

func TestSimBook(t *testing.T) {
	s := startedSim(t)
	s.SetBook(market.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []market.Level{{Price: decimal.NewFromInt(99), Quantity: decimal.NewFromInt(1)}},
		Asks:   []market.Level{{Price: decimal.NewFromInt(101), Quantity: decimal.NewFromInt(1)}},
	})
	msg := s.Process(context.Background(), protocol.Action{Kind: protocol.ActionGetDepth, Symbol: "BTCUSDT"})
	require.NoError(t, msg.Err)
	bid, err := msg.Depth.BestBid()
	require.NoError(t, err)
	assert.True(t, bid.Price.Equal(decimal.NewFromInt(99)))
}
