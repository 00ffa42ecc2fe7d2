package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipLimiters tracks one token bucket per client IP. This guards the HTTP
// surface itself; the per-agent proposal limit is enforced separately by the
// gateway and counts agents, not addresses.
type ipLimiters struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	rps     rate.Limit
	burst   int
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()
	return b.limiter.Allow()
}

func (l *ipLimiters) evictStale(olderThan time.Duration) {
	l.mu.Lock()
	for ip, b := range l.buckets {
		if time.Since(b.lastSeen) > olderThan {
			delete(l.buckets, ip)
		}
	}
	l.mu.Unlock()
}

// RateLimiter returns a Gin middleware enforcing per-IP token-bucket limits.
// rps is the steady-state requests per second; burst is the maximum burst.
// Stale entries are evicted every 5 minutes.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	l := &ipLimiters{
		buckets: make(map[string]*ipBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			l.evictStale(10 * time.Minute)
		}
	}()

	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
