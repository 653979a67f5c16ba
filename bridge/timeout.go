package bridge

import (
	"sync/atomic"
	"time"
)

// Timer is a deadline armed for one slot
type Timer struct {
	slot     *Slot
	t        *time.Timer
	finished atomic.Bool
	sched    *TimeoutScheduler
}

// Slot returns the registration the timer was armed for
func (t *Timer) Slot() *Slot {
	return t.slot
}

// finish flips the timer to finished exactly once and keeps the armed count exact
func (t *Timer) finish() bool {
	if !t.finished.CompareAndSwap(false, true) {
		return false
	}
	t.sched.armed.Add(-1)
	return true
}

// TimeoutScheduler arms per-slot deadlines.
//
// Timers are keyed by the slot handle rather than by the key string: once a
// slot resolves, its key can be registered again while the old timer is still
// being disarmed, and the two must never be confused.
type TimeoutScheduler struct {
	armed atomic.Int64
}

// NewTimeoutScheduler creates a scheduler
func NewTimeoutScheduler() *TimeoutScheduler {
	return &TimeoutScheduler{}
}

// Arm runs onFire no earlier than d from now unless Disarm wins first.
// onFire is expected to resolve the slot, which makes a late fire a no-op.
func (s *TimeoutScheduler) Arm(slot *Slot, d time.Duration, onFire func()) *Timer {
	timer := &Timer{slot: slot, sched: s}
	s.armed.Add(1)

	timer.t = time.AfterFunc(d, func() {
		if !timer.finish() {
			return
		}
		onFire()
	})

	return timer
}

// Disarm stops the timer. It returns true if the fire action was prevented;
// false if it already ran (or is running) or the timer was disarmed before.
func (s *TimeoutScheduler) Disarm(timer *Timer) bool {
	if timer == nil {
		return false
	}
	timer.t.Stop()
	return timer.finish()
}

// Armed returns the number of timers neither fired nor disarmed
func (s *TimeoutScheduler) Armed() int {
	return int(s.armed.Load())
}
