package hedge

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/cross-trader/internal/account"
	"github.com/amirphl/cross-trader/internal/db"
	"github.com/amirphl/cross-trader/internal/market"
	"github.com/amirphl/cross-trader/internal/order"
	"github.com/amirphl/cross-trader/internal/venue"
)

// recordingStore counts restriction writes so tests can assert the
// write-on-change policy.
type recordingStore struct {
	db.RestrictionStore
	writes int
}

func (r *recordingStore) SaveRestriction(ctx context.Context, account, symbol, restriction string) error {
	r.writes++
	return r.RestrictionStore.SaveRestriction(ctx, account, symbol, restriction)
}

func newHedgeFixture(t *testing.T, cfg JobConfig) (*Job, *Restrictions, *venue.Sim, *venue.Sim, *db.Memory) {
	t.Helper()
	ctx := context.Background()
	simA := venue.NewSim("venue-a")
	simB := venue.NewSim("venue-b")
	reg := account.NewRegistry(64)
	require.NoError(t, reg.Register(simA))
	require.NoError(t, reg.Register(simB))
	require.NoError(t, reg.StartAll(ctx))
	t.Cleanup(reg.StopAll)

	mem := db.NewMemory()
	restrictions := NewRestrictions(mem)
	return NewJob(reg, restrictions, mem, cfg), restrictions, simA, simB, mem
}

func TestHedgingSplitBands(t *testing.T) {
	ctx := context.Background()
	job, restrictions, simA, simB, _ := newHedgeFixture(t, JobConfig{})

	simA.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(100000)})
	simB.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(-40000)})

	job.Cycle(ctx)

	// grossAbs=140000, maxAbs=100000, delta=0.2 -> t=7, band [14286, 85714].
	assert.Equal(t, SellOnly, restrictions.Get("venue-a", "BTC-USDT"))
	assert.Equal(t, None, restrictions.Get("venue-b", "BTC-USDT"))
}

func TestHedgingShortLegBeyondBandUnwinds(t *testing.T) {
	ctx := context.Background()
	job, restrictions, simA, simB, _ := newHedgeFixture(t, JobConfig{})

	simA.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(40000)})
	simB.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(-100000)})

	job.Cycle(ctx)

	// Mirror image of the long-dominant case.
	assert.Equal(t, BuyOnly, restrictions.Get("venue-b", "BTC-USDT"))
	assert.Equal(t, None, restrictions.Get("venue-a", "BTC-USDT"))
}

func TestHedgingSmallLegRebuilds(t *testing.T) {
	ctx := context.Background()
	job, restrictions, simA, simB, _ := newHedgeFixture(t, JobConfig{})

	simA.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(100000)})
	simB.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(-5000)})

	job.Cycle(ctx)

	// grossAbs=105000, maxAbs=100000 -> t=5.25, left=19048. 5000 < left so
	// the short leg must grow.
	assert.Equal(t, SellOnly, restrictions.Get("venue-b", "BTC-USDT"))
}

func TestBalancedBookUnrestricted(t *testing.T) {
	ctx := context.Background()
	job, restrictions, simA, simB, _ := newHedgeFixture(t, JobConfig{})

	simA.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(50000)})
	simB.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(-50000)})

	job.Cycle(ctx)

	assert.Equal(t, None, restrictions.Get("venue-a", "BTC-USDT"))
	assert.Equal(t, None, restrictions.Get("venue-b", "BTC-USDT"))
}

func TestRiskControlThreshold(t *testing.T) {
	ctx := context.Background()
	job, restrictions, simA, _, _ := newHedgeFixture(t, JobConfig{
		MaxPosition: map[string]decimal.Decimal{"ETH-USDT": decimal.NewFromInt(100000)},
	})

	simA.SetPosition(market.Position{Symbol: "ETH-USDT", Quantity: decimal.NewFromInt(99000)})
	job.Cycle(ctx)
	assert.Equal(t, None, restrictions.Get("venue-a", "ETH-USDT"))

	simA.SetPosition(market.Position{Symbol: "ETH-USDT", Quantity: decimal.NewFromInt(120000)})
	job.Cycle(ctx)
	assert.Equal(t, SellOnly, restrictions.Get("venue-a", "ETH-USDT"))

	simA.SetPosition(market.Position{Symbol: "ETH-USDT", Quantity: decimal.NewFromInt(-120000)})
	job.Cycle(ctx)
	assert.Equal(t, BuyOnly, restrictions.Get("venue-a", "ETH-USDT"))
}

func TestWriteOnChangeOnly(t *testing.T) {
	ctx := context.Background()
	mem := db.NewMemory()
	rec := &recordingStore{RestrictionStore: mem}
	restrictions := NewRestrictions(rec)

	restrictions.Set(ctx, "venue-a", "BTC-USDT", SellOnly)
	restrictions.Set(ctx, "venue-a", "BTC-USDT", SellOnly)
	restrictions.Set(ctx, "venue-a", "BTC-USDT", SellOnly)
	assert.Equal(t, 1, rec.writes)

	restrictions.Set(ctx, "venue-a", "BTC-USDT", None)
	assert.Equal(t, 2, rec.writes)

	// Clearing a never-set key is not a change.
	restrictions.Set(ctx, "venue-b", "BTC-USDT", None)
	assert.Equal(t, 2, rec.writes)
}

func TestStorageFailureDoesNotAbortComputation(t *testing.T) {
	ctx := context.Background()
	job, restrictions, simA, simB, mem := newHedgeFixture(t, JobConfig{})

	simA.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(100000)})
	simB.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(-40000)})
	mem.SetFailWrites(errors.New("db down"))

	job.Cycle(ctx)

	assert.Equal(t, SellOnly, restrictions.Get("venue-a", "BTC-USDT"))
	assert.Empty(t, mem.Snapshots())
}

func TestSnapshotsPersistedEachCycle(t *testing.T) {
	ctx := context.Background()
	job, _, simA, simB, mem := newHedgeFixture(t, JobConfig{})

	simA.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(100)})
	simB.SetPosition(market.Position{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(-80)})

	job.Cycle(ctx)
	assert.Len(t, mem.Snapshots(), 2)
	job.Cycle(ctx)
	assert.Len(t, mem.Snapshots(), 4)
}

func TestRestrictionAllows(t *testing.T) {
	assert.True(t, None.Allows(order.Buy))
	assert.True(t, None.Allows(order.Sell))
	assert.True(t, BuyOnly.Allows(order.Buy))
	assert.False(t, BuyOnly.Allows(order.Sell))
	assert.False(t, SellOnly.Allows(order.Buy))
	assert.True(t, SellOnly.Allows(order.Sell))
}

func TestRestrictionsLoad(t *testing.T) {
	ctx := context.Background()
	mem := db.NewMemory()
	require.NoError(t, mem.SaveRestriction(ctx, "venue-a", "BTC-USDT", string(SellOnly)))

	restrictions := NewRestrictions(mem)
	require.NoError(t, restrictions.Load(ctx))
	assert.Equal(t, SellOnly, restrictions.Get("venue-a", "BTC-USDT"))
}
