// Package account
package account

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/notification"
	"github.com/amirphl/cross-trader/internal/protocol"
	"github.com/amirphl/cross-trader/internal/traderr"
	"github.com/amirphl/cross-trader/internal/venue"
)

var registryLog = logrus.WithField("component", "account_registry")

// ErrNotFound is returned when an account is unknown or disabled.
var ErrNotFound = traderr.New(traderr.KindLifecycle, "account not found")

type entry struct {
	adapter venue.Adapter
	enabled bool
}

// Registry owns the configured venue adapters keyed by account name. It
// starts them in parallel at boot, stops them in reverse registration order
// at shutdown, and feeds every adapter's push notifications into one shared
// queue. A full queue blocks the producing adapter's delivery goroutine;
// notifications are never dropped here.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	names   []string // registration order, for reverse-order shutdown
	queue   chan notification.Notification
	started bool
}

// NewRegistry creates an empty registry. queueSize <= 0 yields a deployment
// with a large effectively-unbounded buffer.
func NewRegistry(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = 65536
	}
	return &Registry{
		entries: make(map[string]*entry),
		queue:   make(chan notification.Notification, queueSize),
	}
}

// Register adds an adapter under its account name before startup.
func (r *Registry) Register(a venue.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return traderr.New(traderr.KindLifecycle, "registry already started")
	}
	name := a.Name()
	if _, exists := r.entries[name]; exists {
		return traderr.New(traderr.KindLifecycle, "account %s already registered", name)
	}
	r.entries[name] = &entry{adapter: a, enabled: true}
	r.names = append(r.names, name)
	return nil
}

// StartAll starts every registered adapter in parallel and registers the
// shared queue with each. An adapter that fails to start is disabled and
// reported; the others keep running.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return traderr.New(traderr.KindLifecycle, "registry already started")
	}
	r.started = true
	names := make([]string, len(r.names))
	copy(names, r.names)
	r.mu.Unlock()

	var wg sync.WaitGroup
	errC := make(chan error, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			r.mu.RLock()
			e := r.entries[name]
			r.mu.RUnlock()

			if err := e.adapter.Start(ctx); err != nil {
				r.mu.Lock()
				e.enabled = false
				r.mu.Unlock()
				registryLog.Errorf("account %s failed to start: %v", name, err)
				errC <- fmt.Errorf("account %s: %w", name, err)
				return
			}
			msg := e.adapter.Process(ctx, protocol.Action{
				Kind:  protocol.ActionRegisterQueue,
				Queue: r.queue,
			})
			if !msg.OK() {
				registryLog.Errorf("account %s queue registration failed: %v", name, msg.Err)
			}
			registryLog.Infof("account %s started", name)
		}(name)
	}
	wg.Wait()
	close(errC)

	var firstErr error
	for err := range errC {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopAll stops adapters in reverse registration order.
func (r *Registry) StopAll() {
	r.mu.Lock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	r.started = false
	r.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		r.mu.RLock()
		e := r.entries[names[i]]
		r.mu.RUnlock()
		if err := e.adapter.Stop(); err != nil {
			registryLog.Warnf("account %s stop failed: %v", names[i], err)
		} else {
			registryLog.Infof("account %s stopped", names[i])
		}
	}
}

// Get returns the adapter for an account name; ErrNotFound when the account
// is unknown or disabled.
func (r *Registry) Get(name string) (venue.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || !e.enabled {
		return nil, fmt.Errorf("account %s: %w", name, ErrNotFound)
	}
	return e.adapter, nil
}

// Accounts returns every enabled adapter for fan-out queries.
func (r *Registry) Accounts() []venue.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]venue.Adapter, 0, len(r.names))
	for _, name := range r.names {
		if e := r.entries[name]; e.enabled {
			out = append(out, e.adapter)
		}
	}
	return out
}

// Queue exposes the shared notification queue to its consumer (the strategy
// coordinator's router).
func (r *Registry) Queue() <-chan notification.Notification {
	return r.queue
}

// Balances aggregates balances across all enabled accounts. Per-account
// failures are logged and skipped; the aggregate reflects the accounts that
// answered.
func (r *Registry) Balances(ctx context.Context) map[string]map[string]market.Balance {
	out := make(map[string]map[string]market.Balance)
	for _, a := range r.Accounts() {
		msg := a.Process(ctx, protocol.Action{Kind: protocol.ActionGetBalances})
		if !msg.OK() {
			registryLog.Warnf("balance query failed for %s: %v", a.Name(), msg.Err)
			continue
		}
		out[a.Name()] = msg.Balances
	}
	return out
}

// Positions aggregates positions across all enabled accounts.
func (r *Registry) Positions(ctx context.Context) []market.Position {
	var out []market.Position
	for _, a := range r.Accounts() {
		msg := a.Process(ctx, protocol.Action{Kind: protocol.ActionGetPositions})
		if !msg.OK() {
			registryLog.Warnf("position query failed for %s: %v", a.Name(), msg.Err)
			continue
		}
		out = append(out, msg.Positions...)
	}
	return out
}
