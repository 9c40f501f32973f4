package account

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/protocol"
	"github.com/amirphl/cross-trader/internal/venue"
)

func placeSimOrder(t *testing.T, ctx context.Context, sim *venue.Sim, strategy, symbol string) string {
	t.Helper()
	o := order.Order{
		Instrument: order.Instrument{Name: symbol, VenueSymbol: symbol, Precision: 4},
		Side:       order.Buy,
		Type:       order.Limit,
		Quantity:   decimal.NewFromInt(2),
		Price:      decimal.NewFromInt(100),
		ClientID:   order.NewClientID(),
	}
	msg := sim.Process(ctx, protocol.Action{Kind: protocol.ActionPlaceOrder, Strategy: strategy, Order: &o})
	require.NoError(t, msg.Err)
	return o.ClientID
}

func TestRegistryStartStop(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(16)

	simA := venue.NewSim("acct-a")
	simB := venue.NewSim("acct-b")
	require.NoError(t, reg.Register(simA))
	require.NoError(t, reg.Register(simB))

	require.NoError(t, reg.StartAll(ctx))
	assert.True(t, simA.IsAlive())
	assert.True(t, simB.IsAlive())

	got, err := reg.Get("acct-a")
	require.NoError(t, err)
	assert.Equal(t, "acct-a", got.Name())

	reg.StopAll()
	assert.False(t, simA.IsAlive())
	assert.False(t, simB.IsAlive())
}

func TestRegistryUnknownAccount(t *testing.T) {
	reg := NewRegistry(16)
	_, err := reg.Get("nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryDuplicateRegister(t *testing.T) {
	reg := NewRegistry(16)
	require.NoError(t, reg.Register(venue.NewSim("acct-a")))
	err := reg.Register(venue.NewSim("acct-a"))
	require.Error(t, err)
}

func TestRegistryFailedStartDisablesAccount(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(16)

	simA := venue.NewSim("acct-a")
	simB := venue.NewSim("acct-b")
	// A venue that is already alive refuses a second Start.
	require.NoError(t, simB.Start(ctx))
	require.NoError(t, reg.Register(simA))
	require.NoError(t, reg.Register(simB))

	err := reg.StartAll(ctx)
	require.Error(t, err)

	_, err = reg.Get("acct-a")
	assert.NoError(t, err)
	_, err = reg.Get("acct-b")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, reg.Accounts(), 1)
}

func TestRegistryQueueDelivery(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(16)

	sim := venue.NewSim("acct-a")
	require.NoError(t, reg.Register(sim))
	require.NoError(t, reg.StartAll(ctx))
	defer reg.StopAll()

	ord := placeSimOrder(t, ctx, sim, "strat-1", "BTC-USDT")
	require.NoError(t, sim.Fill(ord, decimal.NewFromInt(1)))

	n := <-reg.Queue()
	assert.Equal(t, "strat-1", n.Strategy)
	assert.Equal(t, "acct-a", n.Account)
	require.NotNil(t, n.Trade)
	assert.Equal(t, ord, n.Trade.ClientID)
}

func TestRegistryBalancesFanOut(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(16)

	simA := venue.NewSim("acct-a")
	simB := venue.NewSim("acct-b")
	simA.SetBalance(market.Balance{Asset: "USDT", Available: decimal.NewFromInt(500)})
	simB.SetBalance(market.Balance{Asset: "BTC", Available: decimal.NewFromInt(2)})
	require.NoError(t, reg.Register(simA))
	require.NoError(t, reg.Register(simB))
	require.NoError(t, reg.StartAll(ctx))
	defer reg.StopAll()

	balances := reg.Balances(ctx)
	require.Len(t, balances, 2)
	assert.True(t, balances["acct-a"]["USDT"].Available.Equal(decimal.NewFromInt(500)))
	assert.True(t, balances["acct-b"]["BTC"].Available.Equal(decimal.NewFromInt(2)))
}
