// Package db
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/amirphl/cross-trader/internal/config"
	"github.com/amirphl/cross-trader/internal/journal"
	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/order"
)

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	order.Store
	SnapshotStore
	RestrictionStore
	StrategyConfigStore
	journal.Journaler
}

// SnapshotStore persists per-cycle position snapshots for reconciliation.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, pos market.Position) error
	GetSnapshots(ctx context.Context, account, symbol string, start, end time.Time) ([]market.Position, error)
}

// RestrictionStore persists per-(account, symbol) order-side restrictions.
type RestrictionStore interface {
	SaveRestriction(ctx context.Context, account, symbol, restriction string) error
	LoadRestrictions(ctx context.Context) (map[string]string, error) // keyed account|symbol
}

// RestrictionKey renders the composite key used by LoadRestrictions.
func RestrictionKey(account, symbol string) string {
	return account + "|" + symbol
}

// StrategyConfigStore persists the coordinator's canonical strategy configs.
type StrategyConfigStore interface {
	SaveStrategyConfig(ctx context.Context, sc config.StrategyConfig) error
	ListStrategyConfigs(ctx context.Context) ([]config.StrategyConfig, error)
	DeleteStrategyConfig(ctx context.Context, id int64) error
}
