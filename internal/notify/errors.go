package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category classifies a delivery failure for the retry decision
type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryTimeout     Category = "timeout"
	CategoryRateLimited Category = "rate_limited"
	CategoryUnavailable Category = "unavailable"
	CategoryInvalid     Category = "invalid"
	CategoryAuth        Category = "auth"
	CategoryUnknown     Category = "unknown"
)

// ProviderError is returned by providers that know why a send failed
type ProviderError struct {
	Category   Category
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("email provider %s (status %d): %v", e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("email provider %s: %v", e.Category, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Classify returns the category of err
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	return CategoryUnknown
}
