package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_InitialStateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state Closed, got %d", cb.State())
	}
	if !cb.allowRequest() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.State() != StateClosed {
		t.Error("Expected state Closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.State() != StateOpen {
		t.Error("Expected state Open after 3 failures")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(true)
	if cb.ConsecutiveFailures() != 0 {
		t.Errorf("Expected failure count reset on success, got %d", cb.ConsecutiveFailures())
	}

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.State() != StateClosed {
		t.Error("Expected state Closed: consecutive count restarted after success")
	}
}

func TestCircuitBreaker_OpenRejectsWithoutUnderlyingCall(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Second)
	cb.RecordResult(false)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected no underlying call while Open")
	}
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 50*time.Millisecond)
	cb.RecordResult(false)

	if cb.State() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	time.Sleep(75 * time.Millisecond)

	if !cb.allowRequest() {
		t.Error("Expected to allow trial request after recovery timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected state HalfOpen, got %d", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 50*time.Millisecond)
	cb.RecordResult(false)
	time.Sleep(75 * time.Millisecond)

	if !cb.allowRequest() {
		t.Fatal("Expected trial request to be allowed")
	}
	// Trial in flight: concurrent callers are rejected.
	if cb.allowRequest() {
		t.Error("Expected second request to be rejected while trial in flight")
	}
}

func TestCircuitBreaker_ClosesOnTrialSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 50*time.Millisecond)
	cb.RecordResult(false)
	cb.RecordResult(false)
	time.Sleep(75 * time.Millisecond)

	err := cb.Call(func() error { return nil })
	if err != nil {
		t.Errorf("Expected trial call to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Error("Expected state Closed after trial success")
	}
	if cb.ConsecutiveFailures() != 0 {
		t.Errorf("Expected failure count 0 after recovery, got %d", cb.ConsecutiveFailures())
	}
}

func TestCircuitBreaker_ReopensOnTrialFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 50*time.Millisecond)
	cb.RecordResult(false)
	time.Sleep(75 * time.Millisecond)

	err := cb.Call(func() error { return errors.New("still failing") })
	if err == nil {
		t.Error("Expected trial call error to surface")
	}
	if cb.State() != StateOpen {
		t.Error("Expected state Open after trial failure")
	}

	// lastFailureTime was refreshed: an immediate call is rejected again.
	if cb.allowRequest() {
		t.Error("Expected request rejected right after trial failure")
	}
}

func TestCircuitBreaker_CallPassesThroughClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	wantErr := errors.New("test error")
	if err := cb.Call(func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("Expected underlying error, got %v", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Second)
	cb.RecordResult(false)

	if cb.State() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	cb.Reset()

	if cb.State() != StateClosed {
		t.Error("Expected state Closed after reset")
	}
	if cb.ConsecutiveFailures() != 0 {
		t.Error("Expected failure count reset")
	}
}
