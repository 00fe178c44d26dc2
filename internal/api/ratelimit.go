package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/iotquery/iotquery/internal/auth"
	"github.com/iotquery/iotquery/internal/observability"
)

// idleLimiterTTL is how long an unused caller bucket is kept.
const idleLimiterTTL = 10 * time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// questionLimiter is a token bucket per caller. Callers are keyed by
// authenticated principal, falling back to the client IP.
type questionLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	callers   map[string]*callerLimiter
	lastPrune time.Time
	now       func() time.Time
}

func newQuestionLimiter(perSecond float64, burst int) *questionLimiter {
	return &questionLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		callers: map[string]*callerLimiter{},
		now:     time.Now,
	}
}

// reserve takes a token for caller. It returns zero when the request may
// proceed, otherwise the wait before a token is available.
func (q *questionLimiter) reserve(caller string) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if now.Sub(q.lastPrune) > idleLimiterTTL {
		for key, entry := range q.callers {
			if now.Sub(entry.lastSeen) > idleLimiterTTL {
				delete(q.callers, key)
			}
		}
		q.lastPrune = now
	}

	entry, ok := q.callers[caller]
	if !ok {
		entry = &callerLimiter{limiter: rate.NewLimiter(q.limit, q.burst)}
		q.callers[caller] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return time.Duration(math.MaxInt64)
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
	}
	return delay
}

func (q *questionLimiter) wrap(next http.HandlerFunc) http.HandlerFunc {
	if q == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		delay := q.reserve(callerKey(r))
		if delay <= 0 {
			next(w, r)
			return
		}
		observability.IncrementRateLimited()
		retryAfter := int(math.Ceil(delay.Seconds()))
		if delay == time.Duration(math.MaxInt64) {
			retryAfter = 0
		}
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		writeError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", "too many questions, slow down", true, map[string]any{
			"retry_after_seconds": retryAfter,
		})
	}
}

func callerKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.Principal != "" {
		return "principal:" + identity.Principal
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}
