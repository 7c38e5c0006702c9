package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc picks the bucket a request draws from.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP buckets authenticated callers by user and everyone else by
// client IP. The prefixes keep the two namespaces apart.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := c.GetString(userIDKey); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is an in-process token bucket per key for the app API. Buckets
// idle for longer than idleTTL are dropped by a sweep that runs at most once
// per sweepEvery.
//
// Webhook routes are not limited: the mail provider retries on 429 and the
// ledger already absorbs redeliveries.
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   keyFunc
	now   func() time.Time

	idleTTL    time.Duration
	sweepEvery time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter refills rps tokens per second up to burst (at least 1).
func NewRateLimiter(rps float64, burst int, key keyFunc) *RateLimiter {
	return &RateLimiter{
		limit:      rate.Limit(rps),
		burst:      max(burst, 1),
		key:        key,
		now:        time.Now,
		idleTTL:    10 * time.Minute,
		sweepEvery: time.Minute,
		buckets:    make(map[string]*bucket),
	}
}

func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// retryAfter is the whole seconds until key's bucket has a token again.
// A zero refill rate never refills, so callers are told to wait a minute.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return 60
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return max(int(math.Ceil(d.Seconds())), 1)
}

// Handler answers 429 with Retry-After once a caller's bucket is empty.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := rl.now()
		lim := rl.limiter(rl.key(c), now)
		if lim.AllowN(now, 1) {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter(lim, now)))
		abortJSON(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	}
}
