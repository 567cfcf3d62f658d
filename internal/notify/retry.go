package notify

import (
	"math"
	"time"
)

// RetryPolicy bounds delivery attempts
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Retryable   []Category
}

// DefaultRetryPolicy retries transient categories up to three attempts
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
		Retryable:   []Category{CategoryNetwork, CategoryTimeout, CategoryRateLimited, CategoryUnavailable},
	}
}

// Delay is the wait after the given failed attempt: base * multiplier^(attempt-1), capped
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// ShouldRetry reports whether c is in the allow-list
func (p RetryPolicy) ShouldRetry(c Category) bool {
	for _, r := range p.Retryable {
		if r == c {
			return true
		}
	}
	return false
}
