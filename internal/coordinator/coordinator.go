// Package coordinator maps strategy configs to live runtimes and routes
// shared-queue notifications to the owning strategy. Config mutation
// (enable, disable, update, delete) goes through here so the stored copy and
// the running instance never drift apart silently.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amirphl/cross-trader/internal/account"
	"github.com/amirphl/cross-trader/internal/config"
	"github.com/amirphl/cross-trader/internal/db"
	"github.com/amirphl/cross-trader/internal/hedge"
	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/notifier"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/runtime"
	"github.com/amirphl/cross-trader/internal/strategy"
	"github.com/amirphl/cross-trader/internal/tracker"
	"github.com/amirphl/cross-trader/internal/traderr"
)

var coordLog = logrus.WithField("component", "coordinator")

// Options tunes the coordinator.
type Options struct {
	// TickPeriod for strategy run steps. Default 1s.
	TickPeriod time.Duration
	// TrackPeriod between tracker poll passes. Zero disables the poll loop
	// (strategies may still poll from their own run step).
	TrackPeriod time.Duration
	// Executor shared by all runtimes. Nil runs each strategy synchronously
	// on its own loop.
	Executor runtime.Executor
}

type managed struct {
	cfg     config.StrategyConfig
	rt      *runtime.Runtime
	tracker *tracker.Tracker
}

// Coordinator owns the identity-to-runtime map and the notification router.
type Coordinator struct {
	registry     *account.Registry
	restrictions *hedge.Restrictions
	storage      db.Storage // optional
	alerts       notifier.Notifier
	opts         Options

	mu      sync.Mutex
	running map[string]*managed // keyed by config identity
	byName  map[string]*managed // routing index

	routerDone chan struct{}
	cancel     context.CancelFunc
}

// New creates a coordinator. storage may be nil; alerts may be nil.
func New(registry *account.Registry, restrictions *hedge.Restrictions, storage db.Storage, alerts notifier.Notifier, opts Options) *Coordinator {
	if opts.TickPeriod <= 0 {
		opts.TickPeriod = time.Second
	}
	if alerts == nil {
		alerts = notifier.Noop{}
	}
	return &Coordinator{
		registry:     registry,
		restrictions: restrictions,
		storage:      storage,
		alerts:       alerts,
		opts:         opts,
		running:      make(map[string]*managed),
		byName:       make(map[string]*managed),
	}
}

// Run starts the notification router and, when configured, the tracker poll
// loop. It returns immediately; Shutdown stops everything.
func (c *Coordinator) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.routerDone = make(chan struct{})
	go c.route(ctx)
	if c.opts.TrackPeriod > 0 {
		go c.trackLoop(ctx)
	}
}

// Shutdown stops the router and every running strategy.
func (c *Coordinator) Shutdown() {
	if c.cancel != nil {
		c.cancel()
		<-c.routerDone
	}
	for _, name := range c.Running() {
		c.mu.Lock()
		m := c.byName[name]
		c.mu.Unlock()
		if m == nil {
			continue
		}
		if err := c.StopStrategy(m.cfg); err != nil {
			coordLog.Warnf("strategy %s did not stop cleanly: %v", name, err)
		}
	}
}

// StartStrategy constructs, wraps, and starts one strategy instance. A
// second start for the same identity is a lifecycle error; a bad config is a
// config error and leaves other strategies untouched.
func (c *Coordinator) StartStrategy(ctx context.Context, cfg config.StrategyConfig) error {
	identity := cfg.Identity()
	c.mu.Lock()
	if _, exists := c.running[identity]; exists {
		c.mu.Unlock()
		return traderr.New(traderr.KindLifecycle, "strategy %s already started", identity)
	}
	c.mu.Unlock()

	adapter, err := c.registry.Get(cfg.Account)
	if err != nil {
		return err
	}

	trackCfg, err := trackerConfig(cfg.Props)
	if err != nil {
		return err
	}
	tr := tracker.New(adapter, cfg.Name, trackCfg, c.orderStore())
	cfg = cfg.Clone()

	strat, err := strategy.New(strategy.Deps{
		Config:       cfg,
		Adapter:      adapter,
		Tracker:      tr,
		Restrictions: c.restrictions,
		Notifier:     c.alerts,
	})
	if err != nil {
		return err
	}

	rt := runtime.New(strat, runtime.Options{
		TickPeriod: c.opts.TickPeriod,
		Executor:   c.opts.Executor,
	})
	if err := rt.Start(ctx); err != nil {
		return err
	}

	m := &managed{cfg: cfg, rt: rt, tracker: tr}
	c.mu.Lock()
	c.running[identity] = m
	c.byName[cfg.Name] = m
	c.mu.Unlock()

	c.persist(ctx, cfg)
	coordLog.Infof("strategy %s started on account %s", identity, cfg.Account)
	return nil
}

// StopStrategy stops and removes the runtime for a config. Stopping an
// unknown identity is a lifecycle error.
func (c *Coordinator) StopStrategy(cfg config.StrategyConfig) error {
	identity := cfg.Identity()
	c.mu.Lock()
	m, exists := c.running[identity]
	if !exists {
		c.mu.Unlock()
		return traderr.New(traderr.KindLifecycle, "strategy %s not started", identity)
	}
	delete(c.running, identity)
	delete(c.byName, m.cfg.Name)
	c.mu.Unlock()

	if err := m.rt.Stop(); err != nil {
		return err
	}
	coordLog.Infof("strategy %s stopped", identity)
	return nil
}

// UpdateStrategy replaces a strategy's stored config, restarting the running
// instance so it picks up the new copy.
func (c *Coordinator) UpdateStrategy(ctx context.Context, cfg config.StrategyConfig) error {
	c.mu.Lock()
	_, wasRunning := c.running[cfg.Identity()]
	c.mu.Unlock()

	if wasRunning {
		if err := c.StopStrategy(cfg); err != nil {
			return err
		}
	}
	if !cfg.Enabled {
		c.persist(ctx, cfg)
		return nil
	}
	return c.StartStrategy(ctx, cfg)
}

// Enable marks a config enabled and starts it.
func (c *Coordinator) Enable(ctx context.Context, cfg config.StrategyConfig) error {
	cfg.Enabled = true
	return c.UpdateStrategy(ctx, cfg)
}

// Disable stops a running strategy and marks its config disabled.
func (c *Coordinator) Disable(ctx context.Context, cfg config.StrategyConfig) error {
	cfg.Enabled = false
	return c.UpdateStrategy(ctx, cfg)
}

// Delete stops a strategy if running and removes its stored config.
func (c *Coordinator) Delete(ctx context.Context, cfg config.StrategyConfig) error {
	c.mu.Lock()
	_, wasRunning := c.running[cfg.Identity()]
	c.mu.Unlock()
	if wasRunning {
		if err := c.StopStrategy(cfg); err != nil {
			return err
		}
	}
	if c.storage != nil {
		if err := c.storage.DeleteStrategyConfig(ctx, cfg.ID); err != nil {
			return traderr.Wrap(traderr.KindStorage, err, "delete of strategy %s not persisted", cfg.Name)
		}
	}
	return nil
}

// Running lists the names of running strategies.
func (c *Coordinator) Running() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.byName))
	for name := range c.byName {
		out = append(out, name)
	}
	return out
}

// Positions reports current positions across all registered accounts.
func (c *Coordinator) Positions(ctx context.Context) []market.Position {
	return c.registry.Positions(ctx)
}

// Balances reports balances per account.
func (c *Coordinator) Balances(ctx context.Context) map[string]map[string]market.Balance {
	return c.registry.Balances(ctx)
}

// route drains the shared queue, dispatching each notification to the owning
// strategy's runtime. Unknown or stopped strategies drop the event with a log.
func (c *Coordinator) route(ctx context.Context) {
	defer close(c.routerDone)
	queue := c.registry.Queue()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-queue:
			c.mu.Lock()
			m := c.byName[n.Strategy]
			c.mu.Unlock()
			if m == nil {
				coordLog.Infof("dropping notification %s for unknown strategy %q", n.ID, n.Strategy)
				continue
			}
			m.rt.Notify(n)
		}
	}
}

// trackLoop polls every running strategy's tracker on a fixed period.
func (c *Coordinator) trackLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.TrackPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			trackers := make([]*tracker.Tracker, 0, len(c.running))
			for _, m := range c.running {
				trackers = append(trackers, m.tracker)
			}
			c.mu.Unlock()
			for _, tr := range trackers {
				tr.Track(ctx)
			}
		}
	}
}

func (c *Coordinator) persist(ctx context.Context, cfg config.StrategyConfig) {
	if c.storage == nil {
		return
	}
	if err := c.storage.SaveStrategyConfig(ctx, cfg); err != nil {
		coordLog.Warnf("strategy config %s not persisted: %v", cfg.Name, err)
	}
}

func (c *Coordinator) orderStore() order.Store {
	if c.storage == nil {
		return nil
	}
	return c.storage
}

func trackerConfig(p config.Props) (tracker.Config, error) {
	alive, err := p.OrderAliveTime()
	if err != nil {
		return tracker.Config{}, err
	}
	rate, err := p.OrderRiskRate()
	if err != nil {
		return tracker.Config{}, err
	}
	minQty, err := p.MinOrderQuantity()
	if err != nil {
		return tracker.Config{}, err
	}
	return tracker.Config{
		OrderAliveTime:   alive,
		OrderRiskRate:    rate,
		MinOrderQuantity: minQty,
	}, nil
}
