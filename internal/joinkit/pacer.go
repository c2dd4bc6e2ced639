package joinkit

import (
	"context"
	"time"
)

// DefaultPacingInterval is the mandatory wait after every remote write call
// in a bulk run. It keeps the acting credential under the membership API's
// abuse-rate threshold; removing it risks the credential being globally
// rate-limited or banned.
const DefaultPacingInterval = time.Second

// Pacer enforces the inter-request wait between bulk-run users.
type Pacer interface {
	// Pace blocks for one pacing interval or until the context is done.
	Pace(ctx context.Context) error
}

// FixedIntervalPacer waits a fixed interval on every call. A zero interval
// makes Pace return immediately, which tests use to run without delays.
type FixedIntervalPacer struct {
	interval time.Duration
}

// NewFixedIntervalPacer constructs a pacer with the given interval.
func NewFixedIntervalPacer(interval time.Duration) *FixedIntervalPacer {
	return &FixedIntervalPacer{interval: interval}
}

// Pace blocks for the configured interval, honoring cancellation.
func (pacer *FixedIntervalPacer) Pace(ctx context.Context) error {
	if pacer.interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(pacer.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
