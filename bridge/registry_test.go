package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingRegistry(t *testing.T) {
	t.Run("Register creates an unresolved slot", func(t *testing.T) {
		r := NewPendingRegistry()

		slot, err := r.Register("devices/1/ack", time.Second)
		require.NoError(t, err)

		assert.Equal(t, "devices/1/ack", slot.Key())
		assert.Equal(t, time.Second, slot.Deadline())
		assert.Equal(t, SlotUnresolved, slot.State())
		assert.False(t, slot.CreatedAt().IsZero())
		assert.Equal(t, 1, r.Len())
	})

	t.Run("Register rejects a pending key", func(t *testing.T) {
		r := NewPendingRegistry()
		first, err := r.Register("k", time.Second)
		require.NoError(t, err)

		_, err = r.Register("k", time.Second)
		assert.ErrorIs(t, err, ErrDuplicateKey)

		got, ok := r.Lookup("k")
		require.True(t, ok)
		assert.Same(t, first, got)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("Register rejects an empty key", func(t *testing.T) {
		r := NewPendingRegistry()
		_, err := r.Register("", time.Second)
		assert.ErrorIs(t, err, ErrInvalidKey)
		assert.Zero(t, r.Len())
	})

	t.Run("Resolve delivers the payload once and removes the slot", func(t *testing.T) {
		r := NewPendingRegistry()
		slot, err := r.Register("k", time.Second)
		require.NoError(t, err)

		assert.True(t, r.Resolve("k", []byte("first")))
		assert.False(t, r.Resolve("k", []byte("second")))

		<-slot.Done()
		payload, err := slot.result()
		assert.NoError(t, err)
		assert.Equal(t, []byte("first"), payload)
		assert.Equal(t, SlotMessage, slot.State())
		assert.Zero(t, r.Len())
	})

	t.Run("Resolve on an unknown key returns false", func(t *testing.T) {
		r := NewPendingRegistry()
		assert.False(t, r.Resolve("nobody/listens", []byte("x")))
	})

	t.Run("Remove is idempotent", func(t *testing.T) {
		r := NewPendingRegistry()
		_, err := r.Register("k", time.Second)
		require.NoError(t, err)

		r.Remove("k")
		r.Remove("k")
		r.Remove("never-registered")

		assert.Zero(t, r.Len())
		_, ok := r.Lookup("k")
		assert.False(t, ok)
	})

	t.Run("key can be registered again after resolution", func(t *testing.T) {
		r := NewPendingRegistry()
		_, err := r.Register("k", time.Second)
		require.NoError(t, err)
		require.True(t, r.Resolve("k", nil))

		_, err = r.Register("k", time.Second)
		assert.NoError(t, err)
	})

	t.Run("release leaves a newer registration alone", func(t *testing.T) {
		r := NewPendingRegistry()
		old, err := r.Register("k", time.Second)
		require.NoError(t, err)
		require.True(t, r.Resolve("k", nil))

		newer, err := r.Register("k", time.Second)
		require.NoError(t, err)

		r.release(old)

		got, ok := r.Lookup("k")
		require.True(t, ok)
		assert.Same(t, newer, got)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("release after Remove does not drift the size", func(t *testing.T) {
		r := NewPendingRegistry()
		slot, err := r.Register("k", time.Second)
		require.NoError(t, err)

		r.Remove("k")
		r.release(slot)

		assert.Zero(t, r.Len())
	})
}

func TestPendingRegistryConcurrency(t *testing.T) {
	t.Run("only one concurrent register wins a key", func(t *testing.T) {
		r := NewPendingRegistry()
		var wins atomic.Int32
		var wg sync.WaitGroup

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := r.Register("contended", time.Second); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, 1, r.Len())
	})

	t.Run("only one concurrent resolve wins a slot", func(t *testing.T) {
		r := NewPendingRegistry()
		slot, err := r.Register("k", time.Second)
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if r.Resolve("k", []byte(fmt.Sprint(i))) {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		<-slot.Done()
		assert.Zero(t, r.Len())
	})

	t.Run("distinct keys do not interfere", func(t *testing.T) {
		r := NewPendingRegistry()
		const n = 500
		slots := make([]*Slot, n)
		var wg sync.WaitGroup

		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				slot, err := r.Register(fmt.Sprintf("reply/%d", i), time.Second)
				if !assert.NoError(t, err) {
					return
				}
				slots[i] = slot
				assert.True(t, r.Resolve(fmt.Sprintf("reply/%d", i), []byte(fmt.Sprint(i))))
			}(i)
		}
		wg.Wait()

		for i, slot := range slots {
			require.NotNil(t, slot)
			payload, err := slot.result()
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprint(i), string(payload))
		}
		assert.Zero(t, r.Len())
	})
}
