package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := testPolicy().Do(context.Background(), zerolog.Nop(), "corr-test", func() error {
		attempts++
		return nil
	}, nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestDo_FailureThenSuccess(t *testing.T) {
	// Failing k times then succeeding must give exactly k+1 calls.
	attempts := 0
	err := testPolicy().Do(context.Background(), zerolog.Nop(), "corr-test", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestDo_Exhaustion(t *testing.T) {
	p := testPolicy()
	attempts := 0
	lastErr := errors.New("persistent error")
	err := p.Do(context.Background(), zerolog.Nop(), "corr-test", func() error {
		attempts++
		return lastErr
	}, nil)

	if !errors.Is(err, lastErr) {
		t.Errorf("Expected last error to surface, got %v", err)
	}
	if attempts != p.MaxRetries+1 {
		t.Errorf("Expected %d attempts, got %d", p.MaxRetries+1, attempts)
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	attempts := 0
	isRetryable := func(err error) bool { return false }

	err := testPolicy().Do(context.Background(), zerolog.Nop(), "corr-test", func() error {
		attempts++
		return errors.New("non-retryable error")
	}, isRetryable)

	if err == nil {
		t.Error("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := testPolicy().Do(ctx, zerolog.Nop(), "corr-test", func() error {
		attempts++
		return errors.New("temporary error")
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestBackoff(t *testing.T) {
	p := Policy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second}, // Capped at max
		{5, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.expected {
			t.Errorf("Backoff(%d): expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"connection refused", errors.New("connection refused"), true},
		{"connection reset", errors.New("connection reset"), true},
		{"unavailable", errors.New("unavailable"), true},
		{"deadline exceeded", errors.New("context deadline exceeded"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"other error", errors.New("invalid payload"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableNetworkError(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestRetryableError(t *testing.T) {
	originalErr := errors.New("original error")
	retryableErr := NewRetryableError(originalErr)

	if retryableErr.Error() != "original error" {
		t.Errorf("Expected error message 'original error', got %s", retryableErr.Error())
	}
	if !IsRetryable(retryableErr) {
		t.Error("Expected wrapped error to be retryable")
	}
	if IsRetryable(originalErr) {
		t.Error("Expected unwrapped error to not be retryable")
	}
	if !errors.Is(retryableErr, originalErr) {
		t.Error("Expected errors.Is to unwrap RetryableError")
	}
}
