package detach

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker
type BreakerState int

const (
	// BreakerClosed lets every call through
	BreakerClosed BreakerState = iota
	// BreakerOpen fails calls fast until the reset timeout passes
	BreakerOpen
	// BreakerHalfOpen lets a trial call through to test recovery
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops a Store from hammering a backend that keeps failing.
// After maxFailures consecutive failures calls fail fast with
// ErrBackendUnavailable; after resetTimeout one call is let through again.
//
// Example:
//
//	backend := detach.NewRedisBackend(client, "entities:", 0).
//	    WithCircuitBreaker(detach.NewCircuitBreaker(5, 30*time.Second))
type CircuitBreaker struct {
	mu            sync.RWMutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	lastFailTime  time.Time
	state         BreakerState
	onStateChange func(from, to BreakerState)
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// WithStateChangeCallback observes state transitions (for logging and metrics).
// The callback runs with the breaker locked and must not call back into it.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(from, to BreakerState)) *CircuitBreaker {
	cb.onStateChange = fn
	return cb
}

// Execute runs fn unless the circuit is open. Errors for which healthy
// reports true (such as a missing key) do not count as failures.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error, healthy func(error) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.allow() {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"reason":   "circuit breaker is open",
			"failures": cb.Failures(),
		})
	}

	err := fn()
	cb.record(err == nil || (healthy != nil && healthy(err)))
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		if time.Since(cb.lastFailTime) <= cb.resetTimeout {
			return false
		}
		cb.setState(BreakerHalfOpen)
	}
	return true
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		cb.failures = 0
		if cb.state != BreakerClosed {
			cb.setState(BreakerClosed)
		}
		return
	}

	cb.failures++
	cb.lastFailTime = time.Now()
	// A failed trial call reopens at once
	if cb.state == BreakerHalfOpen || (cb.state == BreakerClosed && cb.failures >= cb.maxFailures) {
		cb.setState(BreakerOpen)
	}
}

func (cb *CircuitBreaker) setState(to BreakerState) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(BreakerClosed)
}
