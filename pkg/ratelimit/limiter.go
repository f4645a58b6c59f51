package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request throttling.
var (
	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tap_throttle_wait_seconds",
		Help:    "Time spent waiting for the request throttle",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	rateLimitPenaltiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tap_rate_limit_penalties_total",
		Help: "Total number of Retry-After penalties applied to the throttle",
	})
)

// MaxPenalty caps a single Retry-After penalty.
const MaxPenalty = 5 * time.Minute

// Limiter gates requests to the API. It is safe for concurrent use; parent and
// child streams share one Limiter.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu           sync.Mutex
	blockedUntil time.Time
	penalties    int
}

// NewLimiter creates a limiter allowing perSecond requests with the given burst.
// A non-positive perSecond disables the token bucket.
func NewLimiter(perSecond float64, burst int, logger zerolog.Logger) *Limiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		throttleWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	if d := l.State().TimeUntilUnblocked(time.Now()); d > 0 {
		l.logger.Debug().Dur("wait_duration", d).Msg("Rate limit penalty active - waiting")
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("throttle wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	return nil
}

// Penalize blocks all requests for d. Overlapping penalties keep the later deadline.
func (l *Limiter) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	if d > MaxPenalty {
		d = MaxPenalty
	}

	l.mu.Lock()
	until := time.Now().Add(d)
	if until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
	l.penalties++
	l.mu.Unlock()

	rateLimitPenaltiesTotal.Inc()
	l.logger.Warn().
		Dur("penalty", d).
		Msg("API rate limit hit - pausing requests")
}

// State returns a snapshot of the limiter.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		Limit:        float64(l.limiter.Limit()),
		Burst:        l.limiter.Burst(),
		BlockedUntil: l.blockedUntil,
		Penalties:    l.penalties,
	}
}
