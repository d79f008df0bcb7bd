package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const bucketIdleTimeout = 10 * time.Minute

// RateLimiter hands out one token bucket per caller. Run drops buckets that
// have been idle for longer than the idle timeout.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	clock   clockwork.Clock
	idle    time.Duration
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows reqPerSec per key with the given burst
func NewRateLimiter(reqPerSec float64, burst int, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		limit:   rate.Limit(reqPerSec),
		burst:   burst,
		clock:   clock,
		idle:    bucketIdleTimeout,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether key may proceed now and spends a token if so
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Sweep drops idle buckets and returns how many were removed
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().Add(-r.idle)
	removed := 0
	for key, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Run sweeps once per idle timeout until ctx is cancelled
func (r *RateLimiter) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := r.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Int("remaining", r.Len()).Msg("rate limiter swept")
			}
		}
	}
}

// LimitByKey answers 429 once the key keyFunc extracts runs out of tokens.
// Requests without a key pass through.
func (r *RateLimiter) LimitByKey(next http.Handler, keyFunc func(*http.Request) (string, bool)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if key, ok := keyFunc(req); ok && key != "" && !r.Allow(key) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT", "too many requests")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// UserRateLimit keys the limiter by the caller's user id
func UserRateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return limiter.LimitByKey(next, func(r *http.Request) (string, bool) {
			userID := callerID(r)
			return userID, userID != ""
		})
	}
}
