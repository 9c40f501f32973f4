// Package venue
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/cross-trader/internal/protocol"
)

var venueLog = logrus.WithField("component", "venue")

// Adapter is the interface every venue implementation satisfies. All
// operations go through Process; Start/Stop bracket the adapter's connections
// and background delivery. Implementations never panic across this boundary
// and never return errors from Process directly; failures travel inside the
// Message.
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	IsAlive() bool
	Process(ctx context.Context, a protocol.Action) protocol.Message

	// Fee rates used for profitability checks.
	MakerFeeRate() decimal.Decimal
	TakerFeeRate() decimal.Decimal
}

// retry wraps a function with retry logic for transient errors, using
// exponential backoff and error logging.
func retry(name string, attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	for i := 1; i <= attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		venueLog.Warnf("%s retry attempt %d/%d failed: %v, backing off for %v", name, i, attempts, err, backoff)
		time.Sleep(backoff)
		// Exponential backoff, but cap at 5 minutes
		if backoff < 5*time.Minute {
			backoff *= 2
			if backoff > 5*time.Minute {
				backoff = 5 * time.Minute
			}
		}
	}
	return errors.New("all retry attempts failed")
}
