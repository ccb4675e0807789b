package control

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// LatencyInjector holds every emitted command for a fixed delay, so the controller is exercised
// under the actuation latency it compensates for.
type LatencyInjector struct {
	clock clock.Clock
	delay time.Duration
}

// NewLatencyInjector returns an injector that waits delay on c.
func NewLatencyInjector(c clock.Clock, delay time.Duration) *LatencyInjector {
	return &LatencyInjector{clock: c, delay: delay}
}

// Delay returns the injected delay.
func (li *LatencyInjector) Delay() time.Duration {
	return li.delay
}

// Inject blocks for the delay. It returns early only when ctx is done.
func (li *LatencyInjector) Inject(ctx context.Context) error {
	if li.delay <= 0 {
		return ctx.Err()
	}
	timer := li.clock.Timer(li.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
