package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amirphl/cross-trader/internal/notification"
	"github.com/amirphl/cross-trader/internal/strategy"
	"github.com/amirphl/cross-trader/internal/traderr"
)

// State of a runtime.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "RUNNING"
	}
	return "STOPPED"
}

// Options tunes one runtime.
type Options struct {
	// TickPeriod between run() steps. Default 1s.
	TickPeriod time.Duration
	// NotifyBuffer bounds the per-runtime notification channel. Default 256.
	NotifyBuffer int
	// StopTimeout bounds how long Stop waits for the loop to exit. Default 5s.
	StopTimeout time.Duration
	// Executor carries strategy work. Nil runs everything on the loop
	// goroutine (synchronous mode).
	Executor Executor
}

func (o Options) withDefaults() Options {
	if o.TickPeriod <= 0 {
		o.TickPeriod = time.Second
	}
	if o.NotifyBuffer <= 0 {
		o.NotifyBuffer = 256
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.Executor == nil {
		o.Executor = Serial{}
	}
	return o
}

// Runtime drives one strategy instance. Two triggers reach the strategy
// while running: the periodic tick calling Run and queue delivery calling
// Notify. Both serialize through execMu, so a strategy never runs
// concurrently with itself; distinct runtimes sharing a pool run in parallel.
// A panic or error from the strategy is logged and the loop keeps going.
type Runtime struct {
	strat strategy.Strategy
	opts  Options
	log   *logrus.Entry

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	notifC chan notification.Notification

	execMu sync.Mutex
}

// New wraps a strategy in a runtime.
func New(strat strategy.Strategy, opts Options) *Runtime {
	return &Runtime{
		strat: strat,
		opts:  opts.withDefaults(),
		log:   logrus.WithField("component", "runtime").WithField("strategy", strat.Name()),
	}
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins the tick/notify loop. Starting a running runtime is a
// lifecycle error.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Running {
		return traderr.New(traderr.KindLifecycle, "strategy %s already running", r.strat.Name())
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.notifC = make(chan notification.Notification, r.opts.NotifyBuffer)
	r.state = Running

	go r.loop(loopCtx, r.notifC, r.done)
	r.log.Infof("started (tick=%v)", r.opts.TickPeriod)
	return nil
}

// Stop signals the loop to exit after its current iteration and waits,
// bounded, for it. Queued notifications are dropped.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if r.state != Running {
		r.mu.Unlock()
		return traderr.New(traderr.KindLifecycle, "strategy %s not running", r.strat.Name())
	}
	r.state = Stopped
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
		r.log.Info("stopped")
		return nil
	case <-time.After(r.opts.StopTimeout):
		return traderr.New(traderr.KindLifecycle, "strategy %s did not stop within %v", r.strat.Name(), r.opts.StopTimeout)
	}
}

// Notify enqueues an event for the strategy. A full buffer blocks the caller
// until the strategy drains it or the runtime stops; events for a stopped
// runtime are dropped with a log line.
func (r *Runtime) Notify(n notification.Notification) {
	r.mu.Lock()
	running := r.state == Running
	notifC := r.notifC
	done := r.done
	r.mu.Unlock()
	if !running {
		r.log.Debugf("dropping notification %s for stopped strategy", n.ID)
		return
	}
	select {
	case notifC <- n:
	case <-done:
		r.log.Debugf("dropping notification %s for stopped strategy", n.ID)
	}
}

func (r *Runtime) loop(ctx context.Context, notifC <-chan notification.Notification, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.opts.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.dispatch(ctx, fmt.Sprintf("%s/run", r.strat.Name()), func(taskCtx context.Context) {
				if err := r.strat.Run(taskCtx); err != nil {
					r.log.Errorf("run step failed: %v", err)
				}
			})
		case n := <-notifC:
			r.dispatch(ctx, fmt.Sprintf("%s/notify", r.strat.Name()), func(taskCtx context.Context) {
				if err := r.strat.Notify(taskCtx, n); err != nil {
					r.log.Errorf("notify failed: %v", err)
				}
			})
		}
	}
}

// dispatch hands one strategy call to the executor, serialized per runtime.
func (r *Runtime) dispatch(ctx context.Context, name string, do func(ctx context.Context)) {
	task := Task{
		Name: name,
		Do: func(taskCtx context.Context) {
			r.execMu.Lock()
			defer r.execMu.Unlock()
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Errorf("strategy panic in %s: %v", name, rec)
				}
			}()
			if taskCtx == nil {
				taskCtx = ctx
			}
			do(taskCtx)
		},
	}
	if !r.opts.Executor.Submit(task) {
		r.log.Warnf("executor rejected %s", name)
	}
}
