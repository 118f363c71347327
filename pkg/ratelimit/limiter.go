// Package ratelimit spaces out the start of new page fetches so a burst of
// freshly launched tasks does not trip the upstream API's rate limiting.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// DefaultStartInterval is the minimum gap between two task starts.
const DefaultStartInterval = 300 * time.Millisecond

var startWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "retail_prices_start_wait_seconds",
	Help:    "Time a page fetch waited for the start limiter before issuing its request",
	Buckets: []float64{0, 0.1, 0.3, 0.6, 1.2, 2.5, 5},
})

// StartLimiter gates new page-fetch starts. It is safe for concurrent use.
type StartLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewStartLimiter returns a limiter allowing one start per interval with a
// burst of one. A non-positive interval disables throttling.
func NewStartLimiter(interval time.Duration) *StartLimiter {
	if interval <= 0 {
		return Unlimited()
	}
	return &StartLimiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Unlimited returns a limiter that never waits.
func Unlimited() *StartLimiter {
	return &StartLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
}

// Interval reports the configured gap between starts (0 when unlimited).
func (l *StartLimiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until the next start is allowed or ctx is done.
func (l *StartLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("start limiter: %w", err)
	}
	startWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}
