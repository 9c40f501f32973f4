package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/traderr"
)

func TestMemoryOrderLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	o := order.Order{
		Instrument: order.Instrument{Name: "BTC-USDT", VenueSymbol: "BTCUSDT"},
		Side:       order.Buy,
		Type:       order.Limit,
		Quantity:   decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(100),
		ClientID:   order.NewClientID(),
	}
	cur := order.CurrentOrder{ClientID: o.ClientID, Status: order.StatusNew}
	require.NoError(t, m.SaveOrder(ctx, o, cur))

	open, err := m.GetOpenOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	require.NoError(t, m.CloseOrder(ctx, o.ClientID))
	open, err = m.GetOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, _, err = m.GetOrder(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, traderr.KindStorage, traderr.KindOf(err))
}

func TestMemoryFailWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("disk full")

	m.SetFailWrites(boom)
	err := m.SaveSnapshot(ctx, market.Position{
		Account: "a", Symbol: "s", Quantity: decimal.NewFromInt(1), Timestamp: time.Now(),
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, traderr.KindStorage, traderr.KindOf(err), "storage failures carry the storage kind")

	m.SetFailWrites(nil)
	require.NoError(t, m.SaveSnapshot(ctx, market.Position{
		Account: "a", Symbol: "s", Quantity: decimal.NewFromInt(1), Timestamp: time.Now(),
	}))
	assert.Len(t, m.Snapshots(), 1)
}
