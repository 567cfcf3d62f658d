package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"booking-service/internal/logger"
)

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter allows at most Max hits per key per Window
type Limiter struct {
	Store  Store
	Max    int
	Window time.Duration
	Prefix string
	Now    func() time.Time
}

// NewLimiter returns a limiter over store
func NewLimiter(store Store, prefix string, max int, window time.Duration) *Limiter {
	return &Limiter{Store: store, Max: max, Window: window, Prefix: prefix, Now: time.Now}
}

// Allow counts one hit for key
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	e, err := l.Store.Hit(ctx, l.Prefix+key, l.Window)
	if err != nil {
		return Decision{Allowed: true, Limit: l.Max, Remaining: l.Max}, err
	}
	d := Decision{Allowed: e.Count <= l.Max, Limit: l.Max, Remaining: l.Max - e.Count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		now := time.Now
		if l.Now != nil {
			now = l.Now
		}
		d.RetryAfter = e.ResetAt(l.Window).Sub(now())
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d, nil
}

// Middleware limits by client IP; store failures are logged and the request is let through
func (l *Limiter) Middleware() gin.HandlerFunc {
	log := logger.Named("ratelimit")
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn().Err(err).Str("ip", c.ClientIP()).Msg("rate limit store unavailable; allowing request")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(d.RetryAfter.Round(time.Second).Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate_limited",
				"message": "Too many booking attempts. Please wait a few minutes and try again.",
			})
			return
		}
		c.Next()
	}
}
