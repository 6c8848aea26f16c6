package llm

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig defines retry behavior for model API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries)
	MaxRetries int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries
	MaxDelay time.Duration
	// Multiplier grows the delay after each retry
	Multiplier float64
	// JitterFactor adds randomness to delays (0.0-1.0)
	JitterFactor float64
}

// DefaultRetryConfig returns sensible defaults for model API retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// isRetryableStatus reports whether an HTTP status warrants another attempt.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// errPermanent marks failures that no amount of retrying will fix,
// such as authentication or malformed-request rejections.
var errPermanent = errors.New("permanent completion failure")

// isRetryableError reports whether an error warrants another attempt.
// Deadline and cancellation errors are final: the branch budget is spent.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, errPermanent)
}

// nextDelay applies the multiplier and jitter, capped at MaxDelay.
func (c RetryConfig) nextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * c.Multiplier)
	if next > c.MaxDelay {
		next = c.MaxDelay
	}
	if c.JitterFactor > 0 {
		jitter := time.Duration(rand.Float64() * c.JitterFactor * float64(next))
		next += jitter
	}
	return next
}
