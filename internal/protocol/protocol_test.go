package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/cross-trader/internal/traderr"
)

func TestActionKindStrings(t *testing.T) {
	assert.Equal(t, "place-order", ActionPlaceOrder.String())
	assert.Equal(t, "place-order-async", ActionPlaceOrderAsync.String())
	assert.Equal(t, "register-queue", ActionRegisterQueue.String())
	assert.Equal(t, "action(99)", ActionKind(99).String())
}

func TestAsyncKinds(t *testing.T) {
	assert.True(t, ActionPlaceOrderAsync.Async())
	assert.True(t, ActionGetByClientID.Async())
	assert.True(t, ActionCancelByClientID.Async())
	assert.False(t, ActionPlaceOrder.Async())
	assert.False(t, ActionGetDepth.Async())
}

func TestPendingResolveOnce(t *testing.T) {
	p := NewPending(ActionPlaceOrderAsync)
	p.Resolve(Message{})
	p.Resolve(Message{Err: traderr.New(traderr.KindVenue, "late")})

	m, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.NoError(t, m.Err, "first resolution wins")
	assert.Equal(t, ActionPlaceOrderAsync, m.Kind)
}

func TestPendingCancel(t *testing.T) {
	p := NewPending(ActionGetByClientID)
	p.Cancel()
	p.Cancel()

	_, err := p.Await(context.Background())
	require.Error(t, err)
	assert.Equal(t, traderr.KindVenue, traderr.KindOf(err))

	select {
	case <-p.Canceled():
	default:
		t.Fatal("cancellation signal not visible")
	}
}

func TestPendingAwaitTimeout(t *testing.T) {
	p := NewPending(ActionCancelByClientID)
	_, err := p.AwaitTimeout(context.Background(), 10*time.Millisecond)
	require.Error(t, err)

	p2 := NewPending(ActionCancelByClientID)
	go func() {
		time.Sleep(5 * time.Millisecond)
		p2.Resolve(Message{})
	}()
	m, err := p2.AwaitTimeout(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, m.OK())
}

func TestUnsupportedIsProtocolError(t *testing.T) {
	m := Unsupported(ActionGetDepth)
	assert.False(t, m.OK())
	assert.Equal(t, traderr.KindProtocol, traderr.KindOf(m.Err))
}
