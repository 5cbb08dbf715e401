package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/agentsight/call-copilot/internal/observability"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Calls rejected immediately
	StateHalfOpen                     // One trial call allowed through
)

// ErrCircuitOpen is returned when a call is rejected without a network
// attempt because the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open: service unavailable")

// CircuitBreaker guards calls to one outbound destination class. One breaker
// exists per destination (frontend, llm, kb) for the process lifetime and is
// mutated concurrently by all sessions calling that destination.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	trialInFlight       bool
}

// NewCircuitBreaker creates a new circuit breaker for a destination class
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
	}
	observability.UpdateCircuitBreakerState(name, int(StateClosed))
	return cb
}

// Call executes fn with circuit breaker protection. When the breaker is open
// and the recovery timeout has not elapsed, fn is not invoked and
// ErrCircuitOpen is returned.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.RecordResult(err == nil)
	return err
}

// allowRequest decides whether a call may proceed, performing the
// Open -> HalfOpen transition when the recovery timeout has elapsed.
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.recoveryTimeout {
			cb.setState(StateHalfOpen)
			cb.trialInFlight = true
			return true
		}
		return false

	case StateHalfOpen:
		// Exactly one trial call; concurrent callers are rejected until
		// the trial resolves.
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	}

	return false
}

// RecordResult records the outcome of a call that was allowed through
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.recordSuccess()
	} else {
		cb.recordFailure()
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0

	case StateHalfOpen:
		cb.trialInFlight = false
		cb.consecutiveFailures = 0
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.lastFailureTime = time.Now()
	observability.IncrementCircuitBreakerFailures(cb.name)

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.setState(StateOpen)
		}

	case StateHalfOpen:
		cb.trialInFlight = false
		cb.setState(StateOpen)
	}
}

// setState transitions the breaker and mirrors the state to metrics.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	observability.UpdateCircuitBreakerState(cb.name, int(s))
}

// Name returns the destination class this breaker guards
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current consecutive failure count
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.trialInFlight = false
	cb.setState(StateClosed)
}
