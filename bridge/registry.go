package bridge

import (
	"sync"
	"sync/atomic"
	"time"
)

// PendingRegistry maps a correlation key (the reply topic) to the slot of the
// sender waiting on it. Operations on different keys never contend on a
// shared lock.
type PendingRegistry struct {
	slots sync.Map // string -> *Slot
	size  atomic.Int64
}

// NewPendingRegistry creates an empty registry
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{}
}

// Register inserts a fresh unresolved slot for key.
// It fails with ErrDuplicateKey while another slot for key is pending.
func (r *PendingRegistry) Register(key string, deadline time.Duration) (*Slot, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	slot := newSlot(key, deadline)
	if _, loaded := r.slots.LoadOrStore(key, slot); loaded {
		return nil, ErrDuplicateKey
	}
	r.size.Add(1)

	return slot, nil
}

// Resolve hands payload to the slot pending on key. It returns true only if a
// slot existed and this call resolved it; the slot is removed right away so a
// second message for the same key finds nothing.
func (r *PendingRegistry) Resolve(key string, payload []byte) bool {
	value, ok := r.slots.Load(key)
	if !ok {
		return false
	}

	slot := value.(*Slot)
	if !slot.resolve(SlotMessage, outcome{payload: payload}) {
		return false
	}
	r.release(slot)

	return true
}

// Remove deletes whatever slot is registered for key. Safe to call repeatedly.
func (r *PendingRegistry) Remove(key string) {
	if _, loaded := r.slots.LoadAndDelete(key); loaded {
		r.size.Add(-1)
	}
}

// Lookup returns the slot pending on key, if any
func (r *PendingRegistry) Lookup(key string) (*Slot, bool) {
	value, ok := r.slots.Load(key)
	if !ok {
		return nil, false
	}
	return value.(*Slot), true
}

// Len returns the number of registered slots
func (r *PendingRegistry) Len() int {
	return int(r.size.Load())
}

// Range calls fn for each registered slot until fn returns false
func (r *PendingRegistry) Range(fn func(slot *Slot) bool) {
	r.slots.Range(func(_, value interface{}) bool {
		return fn(value.(*Slot))
	})
}

// release removes slot only while it is still the entry for its key, so an
// owner cleaning up late cannot evict a newer registration.
func (r *PendingRegistry) release(slot *Slot) {
	if r.slots.CompareAndDelete(slot.key, slot) {
		r.size.Add(-1)
	}
}
