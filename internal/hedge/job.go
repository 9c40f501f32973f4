package hedge

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amirphl/cross-trader/internal/account"
	"github.com/amirphl/cross-trader/internal/db"
	"github.com/amirphl/cross-trader/internal/market"
)

// JobConfig tunes one rebalance job.
type JobConfig struct {
	// Period between cycles; cycles align to period boundaries. Default 1m.
	Period time.Duration
	// Delta is the hedging split divisor.
	Delta decimal.Decimal
	// MaxPosition holds the per-symbol absolute position limit for the
	// risk-controlled set, in units. Symbols without an entry are unlimited.
	MaxPosition map[string]decimal.Decimal
}

func (c JobConfig) withDefaults() JobConfig {
	if c.Period <= 0 {
		c.Period = time.Minute
	}
	if !c.Delta.IsPositive() {
		c.Delta = decimal.RequireFromString("0.2")
	}
	return c
}

// Job periodically rebalances side restrictions from position imbalance.
// Symbols held on a single venue form the risk-controlled set, bounded by an
// absolute position limit. Symbols held across venues form the hedging set,
// where per-venue magnitude bands steer each leg back toward a hedged book.
type Job struct {
	registry     *account.Registry
	restrictions *Restrictions
	snapshots    db.SnapshotStore // optional
	cfg          JobConfig
}

// NewJob wires a rebalance job. snapshots may be nil.
func NewJob(registry *account.Registry, restrictions *Restrictions, snapshots db.SnapshotStore, cfg JobConfig) *Job {
	return &Job{
		registry:     registry,
		restrictions: restrictions,
		snapshots:    snapshots,
		cfg:          cfg.withDefaults(),
	}
}

// Run cycles until the context is canceled. The first cycle waits for the
// next period boundary so restarts keep the cadence stable.
func (j *Job) Run(ctx context.Context) {
	for {
		next := time.Now().Truncate(j.cfg.Period).Add(j.cfg.Period)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			j.Cycle(ctx)
		}
	}
}

// Cycle runs one rebalance pass: snapshot every position, then recompute
// restrictions. Storage failures are logged by the snapshot writer and never
// abort the in-memory computation.
func (j *Job) Cycle(ctx context.Context) {
	positions := j.registry.Positions(ctx)
	j.persistSnapshots(ctx, positions)

	groups := make(map[string][]market.Position)
	for _, pos := range positions {
		groups[pos.Symbol] = append(groups[pos.Symbol], pos)
	}

	for symbol, group := range groups {
		if len(group) == 1 {
			j.applyRiskControl(ctx, symbol, group[0])
			continue
		}
		j.applyHedging(ctx, symbol, group)
	}
}

func (j *Job) persistSnapshots(ctx context.Context, positions []market.Position) {
	if j.snapshots == nil {
		return
	}
	now := time.Now().UTC()
	for _, pos := range positions {
		if pos.Timestamp.IsZero() {
			pos.Timestamp = now
		}
		if err := j.snapshots.SaveSnapshot(ctx, pos); err != nil {
			hedgeLog.Warnf("snapshot %s/%s not persisted: %v", pos.Account, pos.Symbol, err)
		}
	}
}

// applyRiskControl restricts a single-venue position to one-directional
// unwind once its magnitude exceeds the configured limit.
func (j *Job) applyRiskControl(ctx context.Context, symbol string, pos market.Position) {
	limit, ok := j.cfg.MaxPosition[symbol]
	if !ok || !limit.IsPositive() {
		j.restrictions.Set(ctx, pos.Account, symbol, None)
		return
	}
	if pos.Quantity.Abs().LessThanOrEqual(limit) {
		j.restrictions.Set(ctx, pos.Account, symbol, None)
		return
	}
	j.restrictions.Set(ctx, pos.Account, symbol, unwindSide(pos.Quantity))
}

// applyHedging steers each venue leg of a multi-venue position toward the
// band [left, right] derived from the aggregate imbalance. Legs beyond the
// band's far edge may only unwind; legs short of the near edge may only
// rebuild; legs inside the band trade freely.
func (j *Job) applyHedging(ctx context.Context, symbol string, group []market.Position) {
	total := decimal.Zero
	grossAbs := decimal.Zero
	maxAbs := decimal.Zero
	for _, pos := range group {
		total = total.Add(pos.Quantity)
		abs := pos.Quantity.Abs()
		grossAbs = grossAbs.Add(abs)
		if abs.GreaterThan(maxAbs) {
			maxAbs = abs
		}
	}
	if total.IsZero() || maxAbs.IsZero() {
		for _, pos := range group {
			j.restrictions.Set(ctx, pos.Account, symbol, None)
		}
		return
	}

	t := grossAbs.Div(maxAbs).Div(j.cfg.Delta)
	left := maxAbs.Div(t).Round(0)
	right := maxAbs.Sub(left)

	for _, pos := range group {
		abs := pos.Quantity.Abs()
		switch {
		case abs.GreaterThan(right):
			j.restrictions.Set(ctx, pos.Account, symbol, unwindSide(pos.Quantity))
		case abs.LessThan(left):
			j.restrictions.Set(ctx, pos.Account, symbol, rebuildSide(pos.Quantity))
		default:
			j.restrictions.Set(ctx, pos.Account, symbol, None)
		}
	}
}

// unwindSide is the only side that moves a position toward zero.
func unwindSide(qty decimal.Decimal) Restriction {
	if qty.IsPositive() {
		return SellOnly
	}
	return BuyOnly
}

// rebuildSide is the only side that grows the position's magnitude.
func rebuildSide(qty decimal.Decimal) Restriction {
	if qty.IsNegative() {
		return SellOnly
	}
	return BuyOnly
}
