// Package hedge computes per-venue order-side restrictions from aggregate
// position imbalance and enforces single-venue position limits. Strategies
// consult the restriction store before quoting; the rebalance job rewrites it
// once per cycle.
package hedge

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/amirphl/cross-trader/internal/db"
	"github.com/amirphl/cross-trader/internal/order"
)

var hedgeLog = logrus.WithField("component", "hedge")

// Restriction limits which sides a strategy may quote on one (account, symbol).
type Restriction string

const (
	None     Restriction = ""
	BuyOnly  Restriction = "buy-only"
	SellOnly Restriction = "sell-only"
)

// Allows reports whether the restriction admits the given side.
func (r Restriction) Allows(side order.Side) bool {
	switch r {
	case BuyOnly:
		return side == order.Buy
	case SellOnly:
		return side == order.Sell
	default:
		return true
	}
}

// Restrictions is the thread-safe (account, symbol) restriction map. Writes
// persist through the optional store only when the value actually changed;
// a persistence failure keeps the in-memory value and is logged.
type Restrictions struct {
	mu    sync.RWMutex
	m     map[string]Restriction
	store db.RestrictionStore // optional
}

// NewRestrictions creates an empty store. store may be nil.
func NewRestrictions(store db.RestrictionStore) *Restrictions {
	return &Restrictions{
		m:     make(map[string]Restriction),
		store: store,
	}
}

// Load primes the map from persistence, for restarts mid-imbalance.
func (r *Restrictions) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	stored, err := r.store.LoadRestrictions(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range stored {
		r.m[k] = Restriction(v)
	}
	return nil
}

// Get returns the current restriction for one (account, symbol).
func (r *Restrictions) Get(account, symbol string) Restriction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m[db.RestrictionKey(account, symbol)]
}

// Set applies a restriction. Unchanged values write nothing and log nothing.
func (r *Restrictions) Set(ctx context.Context, account, symbol string, res Restriction) {
	key := db.RestrictionKey(account, symbol)
	r.mu.Lock()
	prev, had := r.m[key]
	if had && prev == res {
		r.mu.Unlock()
		return
	}
	if !had && res == None {
		r.mu.Unlock()
		return
	}
	r.m[key] = res
	r.mu.Unlock()

	hedgeLog.Infof("restriction %s/%s: %q -> %q", account, symbol, prev, res)
	if r.store != nil {
		if err := r.store.SaveRestriction(ctx, account, symbol, string(res)); err != nil {
			hedgeLog.Warnf("restriction %s/%s not persisted: %v", account, symbol, err)
		}
	}
}
