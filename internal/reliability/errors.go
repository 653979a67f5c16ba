package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen is matched by every rejection of an open or saturated breaker
	ErrCircuitOpen = errors.New("circuit breaker: circuit is open")
	// ErrUnknownState should never be returned
	ErrUnknownState = errors.New("circuit breaker: unknown state")
)

// CircuitBreakerError represents a rejected call
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	switch e.State {
	case StateOpen:
		retryIn := time.Until(e.NextRetry).Round(time.Second)
		return fmt.Sprintf("circuit breaker %s open: call blocked (failures=%d/%d, retry in %v)",
			e.Name, e.Failures, e.FailureThreshold, retryIn)
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %s half-open: probe limit reached", e.Name)
	default:
		return fmt.Sprintf("circuit breaker %s rejected call in state %v", e.Name, e.State)
	}
}

// Is makes errors.Is(err, ErrCircuitOpen) hold for any rejection
func (e *CircuitBreakerError) Is(target error) bool {
	return target == ErrCircuitOpen
}
