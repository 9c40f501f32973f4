// Package strategy
package strategy

import (
	"context"
	"sort"
	"sync"

	"github.com/amirphl/cross-trader/internal/config"
	"github.com/amirphl/cross-trader/internal/hedge"
	"github.com/amirphl/cross-trader/internal/notification"
	"github.com/amirphl/cross-trader/internal/notifier"
	"github.com/amirphl/cross-trader/internal/tracker"
	"github.com/amirphl/cross-trader/internal/traderr"
	"github.com/amirphl/cross-trader/internal/venue"
)

// Strategy is the interface for all trading strategies. Run executes one
// periodic step; Notify delivers one queue event. The runtime guarantees the
// two never execute concurrently for the same instance.
type Strategy interface {
	Name() string
	Run(ctx context.Context) error
	Notify(ctx context.Context, n notification.Notification) error
}

// Deps carries everything a strategy constructor may bind: its venue, its
// order tracker, the shared restriction store, and the operator notifier.
type Deps struct {
	Config       config.StrategyConfig
	Adapter      venue.Adapter
	Tracker      *tracker.Tracker
	Restrictions *hedge.Restrictions
	Notifier     notifier.Notifier
}

// Factory constructs a strategy instance from its resolved dependencies.
type Factory func(Deps) (Strategy, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// Register binds an executor name to a factory. Called from init.
func Register(executor string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[executor] = f
}

// New constructs the strategy named by deps.Config.Executor.
func New(deps Deps) (Strategy, error) {
	factoryMu.RLock()
	f, ok := factories[deps.Config.Executor]
	factoryMu.RUnlock()
	if !ok {
		return nil, traderr.New(traderr.KindConfig, "unknown executor %q", deps.Config.Executor)
	}
	return f(deps)
}

// Executors lists the registered executor names, sorted.
func Executors() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
