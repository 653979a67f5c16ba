package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned when a reply topic is already pending
	ErrDuplicateKey = errors.New("bridge: reply topic already pending")
	// ErrTimeout is returned when no reply arrived within the deadline
	ErrTimeout = errors.New("bridge: timeout waiting for reply")
	// ErrTransportFailure is matched by every publish failure
	ErrTransportFailure = errors.New("bridge: transport failure")
	// ErrInvalidKey is returned for an empty correlation key
	ErrInvalidKey = errors.New("bridge: invalid correlation key")
	// ErrInvalidRequest is returned for a request without a target topic
	ErrInvalidRequest = errors.New("bridge: invalid request")
	// ErrEngineClosed is returned by Send after Close
	ErrEngineClosed = errors.New("bridge: engine closed")
)

// TransportError wraps a failed publish
type TransportError struct {
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bridge: publish to %q failed: %v", e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransportFailure) hold for any TransportError
func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}

// IsRetryable reports whether a caller may retry the same request.
// Duplicate keys need a different reply topic, so they are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrDuplicateKey):
		return false
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidRequest):
		return false
	case errors.Is(err, ErrEngineClosed):
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrTransportFailure):
		return true
	}

	return false
}
