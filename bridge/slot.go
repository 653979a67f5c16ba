package bridge

import (
	"sync/atomic"
	"time"
)

// SlotState is the resolution state of a pending slot
type SlotState int32

const (
	SlotUnresolved SlotState = iota
	SlotMessage
	SlotTimeout
	SlotFailed
	SlotCancelled
)

func (s SlotState) String() string {
	switch s {
	case SlotUnresolved:
		return "unresolved"
	case SlotMessage:
		return "message"
	case SlotTimeout:
		return "timeout"
	case SlotFailed:
		return "failed"
	case SlotCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// outcome is what the winning resolver hands to the waiting sender
type outcome struct {
	payload []byte
	err     error
}

// Slot is the per-key cell tracking whether a reply or a timeout happened first.
// It transitions out of SlotUnresolved exactly once.
type Slot struct {
	key       string
	createdAt time.Time
	deadline  time.Duration

	state   atomic.Int32
	outcome outcome
	done    chan struct{}
}

func newSlot(key string, deadline time.Duration) *Slot {
	return &Slot{
		key:       key,
		createdAt: time.Now(),
		deadline:  deadline,
		done:      make(chan struct{}),
	}
}

// Key returns the correlation key (reply topic)
func (s *Slot) Key() string {
	return s.key
}

// CreatedAt returns when the slot was registered
func (s *Slot) CreatedAt() time.Time {
	return s.createdAt
}

// Deadline returns the timeout armed for the slot
func (s *Slot) Deadline() time.Duration {
	return s.deadline
}

// State returns the current state
func (s *Slot) State() SlotState {
	return SlotState(s.state.Load())
}

// Done is closed once the slot has been resolved
func (s *Slot) Done() <-chan struct{} {
	return s.done
}

// resolve moves the slot out of SlotUnresolved. Only the caller that wins the
// compare-and-swap stores the outcome and closes done; everyone else gets false.
func (s *Slot) resolve(state SlotState, o outcome) bool {
	if !s.state.CompareAndSwap(int32(SlotUnresolved), int32(state)) {
		return false
	}
	s.outcome = o
	close(s.done)
	return true
}

// result must only be called after Done is closed
func (s *Slot) result() ([]byte, error) {
	return s.outcome.payload, s.outcome.err
}
