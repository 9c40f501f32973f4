package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/amirphl/cross-trader/internal/config"
	"github.com/amirphl/cross-trader/internal/journal"
	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/traderr"
)

type storedOrder struct {
	order   order.Order
	current order.CurrentOrder
	closed  bool
}

// Memory is an in-memory Storage used by tests and paper mode.
type Memory struct {
	mu           sync.RWMutex
	orders       map[string]*storedOrder
	snapshots    []market.Position
	restrictions map[string]string
	strategies   map[int64]config.StrategyConfig
	events       []journal.Event

	// failErr, when set, makes every write fail. Tests use it to exercise
	// storage-failure paths.
	failErr error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:       make(map[string]*storedOrder),
		restrictions: make(map[string]string),
		strategies:   make(map[int64]config.StrategyConfig),
	}
}

// SetFailWrites makes subsequent writes fail with err; nil restores writes.
func (m *Memory) SetFailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *Memory) GetDB() *sql.DB { return nil }

func (m *Memory) SaveOrder(ctx context.Context, o order.Order, cur order.CurrentOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return traderr.Wrap(traderr.KindStorage, m.failErr, "memory store write")
	}
	m.orders[o.ClientID] = &storedOrder{order: o, current: cur}
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, clientID string) (order.Order, order.CurrentOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	so, ok := m.orders[clientID]
	if !ok {
		return order.Order{}, order.CurrentOrder{}, traderr.New(traderr.KindStorage, "order %s not found", clientID)
	}
	return so.order, so.current, nil
}

func (m *Memory) GetOpenOrders(ctx context.Context) ([]order.CurrentOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []order.CurrentOrder
	for _, so := range m.orders {
		if !so.closed && !so.current.Status.Terminal() {
			out = append(out, so.current)
		}
	}
	return out, nil
}

func (m *Memory) CloseOrder(ctx context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return traderr.Wrap(traderr.KindStorage, m.failErr, "memory store write")
	}
	if so, ok := m.orders[clientID]; ok {
		so.closed = true
	}
	return nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, pos market.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return traderr.Wrap(traderr.KindStorage, m.failErr, "memory store write")
	}
	m.snapshots = append(m.snapshots, pos)
	return nil
}

func (m *Memory) GetSnapshots(ctx context.Context, account, symbol string, start, end time.Time) ([]market.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []market.Position
	for _, pos := range m.snapshots {
		if pos.Account == account && pos.Symbol == symbol &&
			!pos.Timestamp.Before(start) && pos.Timestamp.Before(end) {
			out = append(out, pos)
		}
	}
	return out, nil
}

// Snapshots returns every stored snapshot, for assertions.
func (m *Memory) Snapshots() []market.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]market.Position(nil), m.snapshots...)
}

func (m *Memory) SaveRestriction(ctx context.Context, account, symbol, restriction string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return traderr.Wrap(traderr.KindStorage, m.failErr, "memory store write")
	}
	m.restrictions[RestrictionKey(account, symbol)] = restriction
	return nil
}

func (m *Memory) LoadRestrictions(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.restrictions))
	for k, v := range m.restrictions {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SaveStrategyConfig(ctx context.Context, sc config.StrategyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return traderr.Wrap(traderr.KindStorage, m.failErr, "memory store write")
	}
	m.strategies[sc.ID] = sc.Clone()
	return nil
}

func (m *Memory) ListStrategyConfigs(ctx context.Context) ([]config.StrategyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]config.StrategyConfig, 0, len(m.strategies))
	for _, sc := range m.strategies {
		out = append(out, sc.Clone())
	}
	return out, nil
}

func (m *Memory) DeleteStrategyConfig(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return traderr.Wrap(traderr.KindStorage, m.failErr, "memory store write")
	}
	delete(m.strategies, id)
	return nil
}

func (m *Memory) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return traderr.Wrap(traderr.KindStorage, m.failErr, "memory store write")
	}
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && !e.Time.Before(start) && !e.Time.After(end) {
			out = append(out, e)
		}
	}
	return out, nil
}
