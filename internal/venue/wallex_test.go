package venue

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/cross-trader/internal/protocol"
	"github.com/amirphl/cross-trader/internal/traderr"
)

func startedWallex(t *testing.T) *Wallex {
	t.Helper()
	w := NewWallex("acct-w", "", decimal.Zero, decimal.Zero)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestWallexVenueIDMapping(t *testing.T) {
	w := NewWallex("acct-w", "", decimal.Zero, decimal.Zero)

	w.mu.Lock()
	w.venueIDs["tok-1"] = "W-123"
	w.mu.Unlock()

	id, ok := w.venueID("tok-1")
	require.True(t, ok)
	assert.Equal(t, "W-123", id)

	_, ok = w.venueID("tok-2")
	assert.False(t, ok)
}

// By-client-id lookups must translate to the id Wallex assigned at placement;
// an id with no recorded placement fails up front instead of querying the
// venue with an id it has never seen.
func TestWallexUnknownClientIDRejectedBeforeVenueCall(t *testing.T) {
	ctx := context.Background()
	w := startedWallex(t)

	msg := w.Process(ctx, protocol.Action{Kind: protocol.ActionGetByClientID, ClientID: "never-placed"})
	require.NotNil(t, msg.Pending)
	res, err := msg.Pending.Await(ctx)
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.Equal(t, traderr.KindVenue, traderr.KindOf(res.Err))

	msg = w.Process(ctx, protocol.Action{Kind: protocol.ActionCancelByClientID, ClientID: "never-placed"})
	require.NotNil(t, msg.Pending)
	res, err = msg.Pending.Await(ctx)
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.Equal(t, traderr.KindVenue, traderr.KindOf(res.Err))
}
