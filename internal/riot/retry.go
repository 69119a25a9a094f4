package riot

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy bounds the attempt loop in FetchJSON
type RetryPolicy struct {
	MaxAttemptsThrottled int
	MaxAttemptsServer    int
	BaseDelay            time.Duration
	Jitter               time.Duration
	MaxWait              time.Duration
}

// DefaultRetryPolicy is used when no policy is supplied
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttemptsThrottled: 5,
		MaxAttemptsServer:    3,
		BaseDelay:            time.Second,
		Jitter:               500 * time.Millisecond,
		MaxWait:              30 * time.Second,
	}
}

func (p RetryPolicy) maxAttempts(k Kind) int {
	switch k {
	case KindThrottled:
		return p.MaxAttemptsThrottled
	case KindTransientServer:
		return p.MaxAttemptsServer
	default:
		return 1
	}
}

// Backoff computes base*2^attempt + rand[0, jitter), capped at MaxWait.
// attempt is zero-based; jitter is drawn from rnd, which must return a value in [0, n).
func Backoff(p RetryPolicy, attempt int, rnd func(n int64) int64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// past 2^20 the cap always wins; keep the shift from overflowing
	if attempt > 20 {
		attempt = 20
	}
	d := p.BaseDelay * time.Duration(1<<attempt)
	if p.Jitter > 0 && rnd != nil {
		d += time.Duration(rnd(int64(p.Jitter)))
	}
	if p.MaxWait > 0 && (d > p.MaxWait || d < 0) {
		d = p.MaxWait
	}
	return d
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date
func parseRetryAfter(h string, now time.Time) (time.Duration, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(h); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
