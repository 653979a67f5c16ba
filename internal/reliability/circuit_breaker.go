package reliability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
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

// StateChangeListener receives circuit breaker state change notifications
type StateChangeListener interface {
	OnStateChange(name string, from, to State, reason string)
}

// LogListener logs every state change
type LogListener struct {
	Logger *slog.Logger
}

// OnStateChange implements StateChangeListener
func (l LogListener) OnStateChange(name string, from, to State, reason string) {
	l.Logger.Warn("circuit breaker state changed",
		"breaker", name,
		"from", from.String(),
		"to", to.String(),
		"reason", reason)
}

// CircuitBreaker stops calling a failing dependency for a cool-down period.
// While open every call fails immediately with a *CircuitBreakerError.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	halfOpenInUse   int
	lastFailureTime time.Time
	totalRequests   int64
	totalRejected   int64

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	halfOpenRequests int
	name             string

	listeners []StateChangeListener
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the number of consecutive failures that opens the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets the number of half-open successes that close the circuit
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = threshold
	}
}

// WithTimeout sets how long the circuit stays open before probing
func WithTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.openTimeout = timeout
	}
}

// WithHalfOpenRequests sets the max concurrent probes in half-open state
func WithHalfOpenRequests(requests int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenRequests = requests
	}
}

// WithName sets the circuit breaker name for identification
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithListener registers a state change listener
func WithListener(listener StateChangeListener) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.listeners = append(cb.listeners, listener)
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 1,
		openTimeout:      10 * time.Second,
		halfOpenRequests: 1,
		name:             "default",
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

// Execute runs fn unless the circuit is open. A call the caller cancelled
// counts neither as a failure nor as a success.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		cb.releaseHalfOpen()
		return err
	}

	err := fn()
	if err != nil && callerCancelled(ctx, err) {
		cb.releaseHalfOpen()
		return err
	}

	cb.record(err)
	return err
}

// callerCancelled reports whether err stems from the caller giving up rather
// than from the protected call. Deadlines still count as failures.
func callerCancelled(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled)
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset closes the circuit and clears counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenInUse = 0
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		nextRetry := cb.lastFailureTime.Add(cb.openTimeout)
		if time.Now().Before(nextRetry) {
			cb.totalRejected++
			return cb.rejection(nextRetry)
		}
		cb.transition(StateHalfOpen, "open timeout expired")
		cb.halfOpenInUse = 1
		return nil

	case StateHalfOpen:
		if cb.halfOpenInUse >= cb.halfOpenRequests {
			cb.totalRejected++
			return cb.rejection(time.Now().Add(time.Second))
		}
		cb.halfOpenInUse++
		return nil

	default:
		return ErrUnknownState
	}
}

func (cb *CircuitBreaker) releaseHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenInUse > 0 {
		cb.halfOpenInUse--
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenInUse > 0 {
		cb.halfOpenInUse--
	}

	if err != nil {
		cb.failures++
		cb.lastFailureTime = time.Now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.transition(StateOpen, fmt.Sprintf("failure threshold reached (%d/%d)", cb.failures, cb.failureThreshold))
			}
		case StateHalfOpen:
			cb.transition(StateOpen, "probe failed")
		}
		cb.successes = 0
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transition(StateClosed, fmt.Sprintf("success threshold reached (%d/%d)", cb.successes, cb.successThreshold))
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to State, reason string) {
	from := cb.state
	cb.state = to
	if to != StateHalfOpen {
		cb.halfOpenInUse = 0
	}

	for _, listener := range cb.listeners {
		go listener.OnStateChange(cb.name, from, to, reason)
	}
}

func (cb *CircuitBreaker) rejection(nextRetry time.Time) error {
	return &CircuitBreakerError{
		Name:             cb.name,
		State:            cb.state,
		Failures:         cb.failures,
		FailureThreshold: cb.failureThreshold,
		LastFailure:      cb.lastFailureTime,
		NextRetry:        nextRetry,
	}
}

// Metrics returns a snapshot of the breaker counters
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		Name:            cb.name,
		State:           cb.state,
		TotalRequests:   cb.totalRequests,
		TotalRejected:   cb.totalRejected,
		CurrentFailures: cb.failures,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CircuitBreakerMetrics is a snapshot of breaker counters
type CircuitBreakerMetrics struct {
	Name            string
	State           State
	TotalRequests   int64
	TotalRejected   int64
	CurrentFailures int
	LastFailureTime time.Time
}
