package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPThrottle keeps one token bucket per client IP
type IPThrottle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idle     time.Duration
	lastGC   time.Time
	now      func() time.Time
}

// NewIPThrottle allows rps requests per second per IP with the given burst
func NewIPThrottle(rps float64, burst int) *IPThrottle {
	if burst < 1 {
		burst = 1
	}
	return &IPThrottle{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

func (t *IPThrottle) getLimiter(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastGC) > t.idle {
		for k, v := range t.visitors {
			if now.Sub(v.lastSeen) > t.idle {
				delete(t.visitors, k)
			}
		}
		t.lastGC = now
	}

	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Allow reports whether ip may make a request now
func (t *IPThrottle) Allow(ip string) bool {
	return t.getLimiter(ip).AllowN(t.now(), 1)
}

// Middleware rejects requests over the per-IP rate
func (t *IPThrottle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate_limited",
				"message": "Too many requests",
			})
			return
		}
		c.Next()
	}
}
