// Package retry implements the fixed-delay reconnect policy used by the device.
package retry

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDelay is the pause between a disconnect and the next dial attempt.
const DefaultDelay = 3 * time.Second

// Policy waits a fixed delay before every reconnect; there is no cap and no jitter.
type Policy struct {
	Delay time.Duration
	Clock clockwork.Clock
}

// New builds a policy; non-positive delays fall back to DefaultDelay and a nil clock to the real clock.
func New(delay time.Duration, clock clockwork.Clock) Policy {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Policy{Delay: delay, Clock: clock}
}

// Wait blocks for the configured delay or until ctx is done.
func (p Policy) Wait(ctx context.Context) error {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	select {
	case <-clock.After(p.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
