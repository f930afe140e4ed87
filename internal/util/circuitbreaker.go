package util

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the state of the circuit breaker
type CircuitState string

const (
	CircuitStateClosed   CircuitState = "CLOSED"
	CircuitStateOpen     CircuitState = "OPEN"
	CircuitStateHalfOpen CircuitState = "HALF_OPEN"
)

// String implements Stringer interface
func (s CircuitState) String() string {
	return string(s)
}

// CircuitBreaker guards an upstream that degrades under sustained failure.
// After failureThreshold consecutive failures the circuit opens and requests
// are rejected until resetTimeout elapses; the circuit then turns half-open
// and lets requests through until the next recorded result closes it
// (success) or reopens it (failure).
type CircuitBreaker struct {
	state            CircuitState
	failureCount     int
	failureThreshold int
	resetTimeout     time.Duration
	nextRetryTime    time.Time
	logger           *zap.Logger
	mu               sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitStateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           logger,
	}
}

// CanExecute checks if requests can be executed
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitStateOpen && time.Now().After(cb.nextRetryTime) {
		cb.transitionTo(CircuitStateHalfOpen)
	}
	return cb.state != CircuitStateOpen
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitStateHalfOpen {
		cb.logger.Info("Circuit breaker: upstream recovered, closing circuit")
		cb.transitionTo(CircuitStateClosed)
	}
	cb.failureCount = 0
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	if cb.state == CircuitStateHalfOpen {
		// Probe failed, reopen immediately
		cb.transitionTo(CircuitStateOpen)
		cb.nextRetryTime = time.Now().Add(cb.resetTimeout)
		return
	}
	if cb.failureCount >= cb.failureThreshold {
		cb.logger.Warn("Circuit breaker: threshold reached, opening circuit",
			zap.Int("failures", cb.failureCount),
			zap.Duration("reset_timeout", cb.resetTimeout),
		)
		cb.transitionTo(CircuitStateOpen)
		cb.nextRetryTime = time.Now().Add(cb.resetTimeout)
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transitionTo changes the circuit state (must be called with lock held)
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}
	cb.logger.Debug("Circuit breaker: state transition",
		zap.String("from", cb.state.String()),
		zap.String("to", newState.String()),
		zap.Int("failure_count", cb.failureCount),
	)
	cb.state = newState
}
