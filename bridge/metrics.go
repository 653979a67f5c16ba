package bridge

import (
	"context"
	"errors"
	"time"
)

// Send modes and outcomes reported to a MetricsCollector
const (
	ModeFireAndForget = "fire_and_forget"
	ModeRequestReply  = "request_reply"

	OutcomeOK        = "ok"
	OutcomeTimeout   = "timeout"
	OutcomeDuplicate = "duplicate"
	OutcomeTransport = "transport_failure"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// MetricsCollector collects correlation metrics
type MetricsCollector interface {
	// RecordSend records one finished Send call
	RecordSend(mode, outcome string, duration time.Duration)

	// RecordUnmatched records an inbound message no slot was waiting for
	RecordUnmatched()

	// SetPending reports the current number of pending slots
	SetPending(n int)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordSend does nothing
func (NoOpMetricsCollector) RecordSend(mode, outcome string, duration time.Duration) {}

// RecordUnmatched does nothing
func (NoOpMetricsCollector) RecordUnmatched() {}

// SetPending does nothing
func (NoOpMetricsCollector) SetPending(n int) {}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrDuplicateKey):
		return OutcomeDuplicate
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	// a publish that ran out of time is the broker's fault, not the caller's
	case errors.Is(err, ErrTransportFailure):
		return OutcomeTransport
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
