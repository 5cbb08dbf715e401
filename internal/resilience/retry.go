package resilience

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Policy holds configuration for retry-with-backoff. It is a stateless value
// object, safe to share across calls and sessions.
type Policy struct {
	MaxRetries   int           // Additional attempts after the first failure
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap on inter-attempt delay
	Multiplier   float64       // Exponential backoff multiplier
}

// DefaultPolicy returns a default retry policy
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// Backoff returns the delay after the given zero-based attempt:
// InitialDelay * Multiplier^attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// IsRetryableFunc reports whether an error should trigger a retry
type IsRetryableFunc func(error) bool

// Do executes fn, retrying up to MaxRetries additional times on retryable
// failures. Non-retryable failures surface immediately without consuming
// retry budget; on exhaustion the last error is surfaced. The correlation ID
// is used for log correlation only and never affects behavior.
func (p Policy) Do(ctx context.Context, logger zerolog.Logger, correlationID string, fn RetryableFunc, isRetryable IsRetryableFunc) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}

		if attempt == p.MaxRetries {
			break
		}

		delay := p.Backoff(attempt)
		logger.Warn().
			Str("correlation_id", correlationID).
			Int("attempt", attempt+1).
			Int("max_attempts", p.MaxRetries+1).
			Dur("delay", delay).
			Err(err).
			Msg("Attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	logger.Error().
		Str("correlation_id", correlationID).
		Int("attempts", p.MaxRetries+1).
		Err(lastErr).
		Msg("All attempts failed")
	return lastErr
}

// IsRetryableNetworkError checks if an error looks like a transient
// network-level failure worth retrying.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	// Connection errors
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"transport is closing",
		"unavailable",
		"network is unreachable",
		"no route to host",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	// Timeout errors
	for _, s := range []string{
		"deadline exceeded",
		"timeout",
		"i/o timeout",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	// Resource exhaustion (may be temporary)
	for _, s := range []string{
		"resource exhausted",
		"too many connections",
		"rate limit",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// RetryableError wraps an error to mark it explicitly retryable
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is marked retryable via RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
