package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alegny-health/api/internal/platform/auth"
	"github.com/alegny-health/api/internal/platform/httpx"
)

const rateLimiterIdleTTL = 10 * time.Minute

// RequesterRateLimiter throttles a route per authenticated caller with a token bucket per UID.
type RequesterRateLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*requesterBucket
	pruned  time.Time
}

type requesterBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRequesterRateLimiter allows perMinute requests per caller with the given burst. It returns
// nil when perMinute is not positive, which disables throttling.
func NewRequesterRateLimiter(perMinute, burst int, clock func() time.Time) *RequesterRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	if clock == nil {
		clock = time.Now
	}
	return &RequesterRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		clock:   clock,
		buckets: make(map[string]*requesterBucket),
	}
}

// Allow reports whether key may proceed now, and otherwise how long until a token frees up.
func (l *RequesterRateLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &requesterBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now
	if bucket.limiter.AllowN(now, 1) {
		return true, 0
	}
	reservation := bucket.limiter.ReserveN(now, 1)
	wait := reservation.DelayFrom(now)
	reservation.CancelAt(now)
	return false, wait
}

func (l *RequesterRateLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.pruned) < rateLimiterIdleTTL {
		return
	}
	l.pruned = now
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) > rateLimiterIdleTTL {
			delete(l.buckets, key)
		}
	}
}

// Middleware rejects callers over their budget with 429 and a Retry-After hint.
func (l *RequesterRateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ""
		if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil {
			key = identity.UID
		}
		allowed, wait := l.Allow(key)
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
