package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

const defaultHalfOpenMaxCalls = 3

// CircuitBreaker guards calls to an external dependency such as the staff
// alert webhook. After maxFailures consecutive failures it rejects calls
// until timeout has passed, then lets a few trial calls through.
type CircuitBreaker struct {
	name             string
	maxFailures      uint32
	timeout          time.Duration
	halfOpenMaxCalls uint32

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32
	successCount    uint32
	requestCount    uint64
	rejectedCount   uint64

	onStateChange func(name string, from, to State)
	logger        *logrus.Logger
	now           func() time.Time
}

// New creates a new circuit breaker
func New(name string, maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	return NewWithLogger(name, maxFailures, timeout, logrus.New())
}

// NewWithLogger creates a new circuit breaker with a custom logger
func NewWithLogger(name string, maxFailures uint32, timeout time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		timeout:          timeout,
		halfOpenMaxCalls: defaultHalfOpenMaxCalls,
		state:            StateClosed,
		logger:           logger,
		now:              time.Now,
	}
}

// OnStateChange registers a hook called after every transition. It runs
// with the breaker lock released.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// Execute runs fn if the breaker allows it
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	allowed, transition := cb.beforeRequest()
	cb.notify(transition)
	if !allowed {
		return &CircuitBreakerError{Name: cb.name, State: cb.GetState(), RetryAfter: cb.RetryIn()}
	}

	err := fn(ctx)

	// A cancelled caller says nothing about the health of the dependency
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil {
		cb.release()
		return err
	}

	if err != nil {
		cb.notify(cb.onFailure())
		return err
	}
	cb.notify(cb.onSuccess())
	return nil
}

type transition struct {
	from, to State
	changed  bool
}

func (cb *CircuitBreaker) beforeRequest() (bool, transition) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var t transition
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
		t = cb.setState(StateHalfOpen)
		cb.halfOpenCalls = 0
		cb.successCount = 0
	}

	switch cb.state {
	case StateClosed:
		cb.requestCount++
		return true, t
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.halfOpenMaxCalls {
			cb.halfOpenCalls++
			cb.requestCount++
			return true, t
		}
	}
	cb.rejectedCount++
	return false, t
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
}

func (cb *CircuitBreaker) onSuccess() transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMaxCalls {
			t := cb.setState(StateClosed)
			cb.failures = 0
			cb.successCount = 0
			cb.halfOpenCalls = 0
			return t
		}
	case StateClosed:
		cb.failures = 0
		cb.successCount++
	}
	return transition{}
}

func (cb *CircuitBreaker) onFailure() transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			return cb.setState(StateOpen)
		}
	case StateHalfOpen:
		return cb.setState(StateOpen)
	}
	return transition{}
}

// setState must be called with the lock held
func (cb *CircuitBreaker) setState(to State) transition {
	from := cb.state
	if from == to {
		return transition{}
	}
	cb.state = to

	fields := logrus.Fields{
		"circuit_breaker": cb.name,
		"from":            from.String(),
		"state":           to.String(),
		"failures":        cb.failures,
	}
	switch to {
	case StateOpen:
		cb.logger.WithFields(fields).Warn("Circuit breaker opened due to failures")
	case StateHalfOpen:
		cb.logger.WithFields(fields).Info("Circuit breaker transitioned to half-open")
	case StateClosed:
		cb.logger.WithFields(fields).Info("Circuit breaker closed after successful recovery")
	}
	return transition{from: from, to: to, changed: true}
}

func (cb *CircuitBreaker) notify(t transition) {
	if !t.changed {
		return
	}
	cb.mu.Lock()
	hook := cb.onStateChange
	cb.mu.Unlock()
	if hook != nil {
		hook(cb.name, t.from, t.to)
	}
}

// GetState returns the current state. An open breaker whose timeout has
// passed reports HALF_OPEN.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
		return StateHalfOpen
	}
	return cb.state
}

// RetryIn returns how long an open breaker keeps rejecting calls. It is 0
// when the breaker would admit a call now.
func (cb *CircuitBreaker) RetryIn() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.timeout - cb.now().Sub(cb.lastFailureTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requestCount,
		Rejected:        cb.rejectedCount,
		Successes:       cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string    `json:"name"`
	State           State     `json:"-"`
	Failures        uint32    `json:"failures"`
	Requests        uint64    `json:"requests"`
	Rejected        uint64    `json:"rejected"`
	Successes       uint32    `json:"successes"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// CircuitBreakerError is returned when the breaker rejects a call without
// running it. RetryAfter is the remaining open time, 0 for a saturated
// half-open breaker.
type CircuitBreakerError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is, or wraps, a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
