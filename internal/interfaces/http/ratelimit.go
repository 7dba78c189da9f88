package http

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL       = 15 * time.Minute
	limiterSweepInterval = time.Minute
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64
}

// actorLimiter keeps one token bucket per actor. Idle buckets are swept
// lazily on access.
type actorLimiter struct {
	limit rate.Limit
	burst int

	limiters  sync.Map // actor id -> *limiterEntry
	lastSweep atomic.Int64
	now       func() time.Time
}

// newActorLimiter returns nil when rps is not positive
func newActorLimiter(rps float64, burst int) *actorLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps) + 1
	}
	l := &actorLimiter{limit: rate.Limit(rps), burst: burst, now: time.Now}
	l.lastSweep.Store(l.now().UnixNano())
	return l
}

func (l *actorLimiter) get(key string) *rate.Limiter {
	now := l.now()
	if v, ok := l.limiters.Load(key); ok {
		entry := v.(*limiterEntry)
		entry.lastAccess.Store(now.UnixNano())
		return entry.limiter
	}

	entry := &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
	entry.lastAccess.Store(now.UnixNano())
	v, _ := l.limiters.LoadOrStore(key, entry)
	l.sweep(now)
	return v.(*limiterEntry).limiter
}

func (l *actorLimiter) sweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(limiterSweepInterval) || !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-limiterIdleTTL).UnixNano()
	l.limiters.Range(func(key, value interface{}) bool {
		if value.(*limiterEntry).lastAccess.Load() < cutoff {
			l.limiters.Delete(key)
		}
		return true
	})
}

func (l *actorLimiter) size() int {
	n := 0
	l.limiters.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// rateLimitMiddleware throttles mutations per authenticated actor
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		key := c.ClientIP()
		if actor, ok := actorFrom(c); ok {
			key = actor.ID
		}

		if !s.limiter.get(key).Allow() {
			retry := time.Duration(float64(time.Second) / float64(s.limiter.limit))
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			fail(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}
