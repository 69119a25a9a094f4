package riot

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces outbound calls by a fixed minimum interval. It sits in
// front of the hard quota and only smooths bursts.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows one call per interval. A non-positive interval disables it.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		return &Throttle{}
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next call may go out or ctx is done
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return ctx.Err()
	}
	return t.limiter.Wait(ctx)
}
