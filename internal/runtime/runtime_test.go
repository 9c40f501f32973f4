package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/cross-trader/internal/notification"
)

// probe records invocations and flags any concurrent entry into the strategy.
type probe struct {
	name       string
	runs       atomic.Int64
	notifies   atomic.Int64
	inFlight   atomic.Int64
	overlapped atomic.Bool
	panicOnce  atomic.Bool
	delay      time.Duration
}

func (p *probe) Name() string { return p.name }

func (p *probe) enter() {
	if p.inFlight.Add(1) > 1 {
		p.overlapped.Store(true)
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
}

func (p *probe) exit() { p.inFlight.Add(-1) }

func (p *probe) Run(ctx context.Context) error {
	p.enter()
	defer p.exit()
	if p.panicOnce.CompareAndSwap(true, false) {
		panic("strategy blew up")
	}
	p.runs.Add(1)
	return nil
}

func (p *probe) Notify(ctx context.Context, n notification.Notification) error {
	p.enter()
	defer p.exit()
	p.notifies.Add(1)
	return nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestRuntimeTicksAndNotifies(t *testing.T) {
	p := &probe{name: "probe"}
	r := New(p, Options{TickPeriod: 10 * time.Millisecond})

	require.NoError(t, r.Start(context.Background()))
	waitFor(t, func() bool { return p.runs.Load() >= 3 }, "run steps")

	r.Notify(notification.Notification{ID: "n1", Strategy: "probe"})
	waitFor(t, func() bool { return p.notifies.Load() == 1 }, "notify delivery")

	require.NoError(t, r.Stop())
	assert.Equal(t, Stopped, r.State())
	assert.False(t, p.overlapped.Load(), "strategy ran concurrently with itself")
}

func TestRuntimeDoubleStartRejected(t *testing.T) {
	p := &probe{name: "probe"}
	r := New(p, Options{TickPeriod: time.Hour})

	require.NoError(t, r.Start(context.Background()))
	err := r.Start(context.Background())
	require.Error(t, err)
	require.NoError(t, r.Stop())

	err = r.Stop()
	require.Error(t, err)
}

func TestRuntimeSurvivesPanic(t *testing.T) {
	p := &probe{name: "probe"}
	p.panicOnce.Store(true)
	r := New(p, Options{TickPeriod: 10 * time.Millisecond})

	require.NoError(t, r.Start(context.Background()))
	waitFor(t, func() bool { return p.runs.Load() >= 2 }, "ticks after panic")
	require.NoError(t, r.Stop())
}

func TestRuntimeDropsNotifyWhenStopped(t *testing.T) {
	p := &probe{name: "probe"}
	r := New(p, Options{TickPeriod: time.Hour})

	r.Notify(notification.Notification{ID: "n0"})
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
	r.Notify(notification.Notification{ID: "n1"})

	assert.Equal(t, int64(0), p.notifies.Load())
}

func TestRuntimeNotifyBackpressure(t *testing.T) {
	p := &probe{name: "probe", delay: 2 * time.Millisecond}
	r := New(p, Options{TickPeriod: time.Hour, NotifyBuffer: 1})

	require.NoError(t, r.Start(context.Background()))

	// A producer outrunning the strategy is slowed down, never dropped.
	const total = 50
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for i := 0; i < total; i++ {
			r.Notify(notification.Notification{ID: "n", Strategy: "probe"})
		}
	}()
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("producer wedged")
	}
	waitFor(t, func() bool { return p.notifies.Load() == total }, "every notification delivered")
	require.NoError(t, r.Stop())
}

func TestPooledRuntimesRunInParallelButNotWithThemselves(t *testing.T) {
	pool := NewPool(64, 4)
	pool.Start(context.Background())
	defer pool.Stop(context.Background())

	p1 := &probe{name: "one", delay: 5 * time.Millisecond}
	p2 := &probe{name: "two", delay: 5 * time.Millisecond}
	r1 := New(p1, Options{TickPeriod: 10 * time.Millisecond, Executor: pool})
	r2 := New(p2, Options{TickPeriod: 10 * time.Millisecond, Executor: pool})

	require.NoError(t, r1.Start(context.Background()))
	require.NoError(t, r2.Start(context.Background()))

	for i := 0; i < 20; i++ {
		r1.Notify(notification.Notification{ID: "a", Strategy: "one"})
		r2.Notify(notification.Notification{ID: "b", Strategy: "two"})
	}
	waitFor(t, func() bool { return p1.runs.Load() >= 3 && p2.runs.Load() >= 3 }, "pooled run steps")

	require.NoError(t, r1.Stop())
	require.NoError(t, r2.Stop())

	assert.False(t, p1.overlapped.Load(), "strategy one overlapped itself")
	assert.False(t, p2.overlapped.Load(), "strategy two overlapped itself")
}

func TestPoolRejectsWhenFull(t *testing.T) {
	pool := NewPool(1, 1)
	// Not started: nothing drains the queue.
	ok := pool.Submit(Task{Name: "a", Do: func(ctx context.Context) {}})
	assert.True(t, ok)
	ok = pool.Submit(Task{Name: "b", Do: func(ctx context.Context) {}})
	assert.False(t, ok)
	assert.Equal(t, 1, pool.QueueLen())
}
