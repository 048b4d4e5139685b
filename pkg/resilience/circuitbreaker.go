package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all calls through
	StateClosed State = iota
	// StateOpen blocks calls until the cool-down elapses
	StateOpen
	// StateHalfOpen lets one trial call through
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitBreakerOpen is returned by Execute while the breaker is open.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker opens after maxFailures consecutive failures and stays open for coolDown.
// Errors rejected by the trip filter never count as failures.
type CircuitBreaker struct {
	maxFailures int
	coolDown    time.Duration
	trips       func(error) bool
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// NewCircuitBreaker creates a breaker. A nil trips counts every error.
func NewCircuitBreaker(maxFailures int, coolDown time.Duration, trips func(error) bool) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if trips == nil {
		trips = func(error) bool { return true }
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		coolDown:    coolDown,
		trips:       trips,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed, moving an expired open breaker to half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.coolDown {
		cb.state = StateHalfOpen
	}
	return cb.state != StateOpen
}

// Record feeds the outcome of a call that Allow let through.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil || !cb.trips(err) {
		cb.state = StateClosed
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.failures = 0
	}
}

// Execute runs fn when allowed and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitBreakerOpen
	}
	err := fn()
	cb.Record(err)
	return err
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RemainingCoolDown returns how long an open breaker stays open; zero otherwise.
func (cb *CircuitBreaker) RemainingCoolDown() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.coolDown - cb.now().Sub(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
