package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplacementIDRoundTrip(t *testing.T) {
	token := NewClientID()
	first := ReplacementID(token, 1)
	second := ReplacementID(token, 2)

	assert.Equal(t, token+"_1", first)
	assert.Equal(t, token, BaseToken(first))
	assert.Equal(t, token, BaseToken(second))
	assert.Equal(t, token, BaseToken(token))
}

func TestRoundQtyTruncates(t *testing.T) {
	inst := Instrument{Name: "BTC-USDT", VenueSymbol: "BTCUSDT", Precision: 4}
	got := inst.RoundQty(decimal.RequireFromString("0.123456789"))
	assert.True(t, got.Equal(decimal.RequireFromString("0.1234")), "got %s", got)

	// Truncation never rounds up.
	got = inst.RoundQty(decimal.RequireFromString("0.99999"))
	assert.True(t, got.Equal(decimal.RequireFromString("0.9999")), "got %s", got)
}

func TestValidate(t *testing.T) {
	base := Order{
		Instrument: Instrument{Name: "BTC-USDT", VenueSymbol: "BTCUSDT"},
		Side:       Buy,
		Type:       Limit,
		Quantity:   decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(100),
		ClientID:   NewClientID(),
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Order)
	}{
		{"no symbol", func(o *Order) { o.Instrument.VenueSymbol = "" }},
		{"bad side", func(o *Order) { o.Side = "hold" }},
		{"zero quantity", func(o *Order) { o.Quantity = decimal.Zero }},
		{"limit without price", func(o *Order) { o.Price = decimal.Zero }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.mutate(&o)
			assert.Error(t, o.Validate())
		})
	}

	market := base
	market.Type = Market
	market.Price = decimal.Zero
	assert.NoError(t, market.Validate(), "market orders carry no price")
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusNew.Terminal())
	assert.False(t, StatusPartFilled.Terminal())
	assert.True(t, StatusFilled.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}
