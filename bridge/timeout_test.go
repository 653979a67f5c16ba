package bridge

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlot(t *testing.T) {
	t.Run("resolves exactly once", func(t *testing.T) {
		slot := newSlot("k", time.Second)

		assert.True(t, slot.resolve(SlotTimeout, outcome{err: ErrTimeout}))
		assert.False(t, slot.resolve(SlotMessage, outcome{payload: []byte("late")}))

		payload, err := slot.result()
		assert.Nil(t, payload)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, SlotTimeout, slot.State())
	})

	t.Run("Done is closed by the winner", func(t *testing.T) {
		slot := newSlot("k", time.Second)

		select {
		case <-slot.Done():
			t.Fatal("done closed before resolution")
		default:
		}

		slot.resolve(SlotMessage, outcome{payload: []byte("x")})

		select {
		case <-slot.Done():
		case <-time.After(time.Second):
			t.Fatal("done not closed after resolution")
		}
	})

	t.Run("message and timeout racing resolve it once", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			slot := newSlot("k", time.Second)
			var wins atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})

			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				if slot.resolve(SlotMessage, outcome{payload: []byte("reply")}) {
					wins.Add(1)
				}
			}()
			go func() {
				defer wg.Done()
				<-start
				if slot.resolve(SlotTimeout, outcome{err: ErrTimeout}) {
					wins.Add(1)
				}
			}()
			close(start)
			wg.Wait()

			require.Equal(t, int32(1), wins.Load())
		}
	})

	t.Run("state names", func(t *testing.T) {
		assert.Equal(t, "unresolved", SlotUnresolved.String())
		assert.Equal(t, "message", SlotMessage.String())
		assert.Equal(t, "timeout", SlotTimeout.String())
		assert.Equal(t, "failed", SlotFailed.String())
		assert.Equal(t, "cancelled", SlotCancelled.String())
		assert.Equal(t, "unknown", SlotState(42).String())
	})
}

func TestTimeoutScheduler(t *testing.T) {
	t.Run("fires after the duration", func(t *testing.T) {
		s := NewTimeoutScheduler()
		slot := newSlot("k", 20*time.Millisecond)
		fired := make(chan time.Time, 1)
		armedAt := time.Now()

		s.Arm(slot, 20*time.Millisecond, func() { fired <- time.Now() })
		assert.Equal(t, 1, s.Armed())

		select {
		case at := <-fired:
			assert.GreaterOrEqual(t, at.Sub(armedAt), 20*time.Millisecond)
		case <-time.After(time.Second):
			t.Fatal("timer did not fire")
		}
		assert.Equal(t, 0, s.Armed())
	})

	t.Run("disarm before fire prevents it", func(t *testing.T) {
		s := NewTimeoutScheduler()
		var fired atomic.Bool

		timer := s.Arm(newSlot("k", 0), 30*time.Millisecond, func() { fired.Store(true) })
		assert.True(t, s.Disarm(timer))
		assert.False(t, s.Disarm(timer))

		time.Sleep(60 * time.Millisecond)
		assert.False(t, fired.Load())
		assert.Equal(t, 0, s.Armed())
	})

	t.Run("disarm after fire reports false", func(t *testing.T) {
		s := NewTimeoutScheduler()
		done := make(chan struct{})

		timer := s.Arm(newSlot("k", 0), time.Millisecond, func() { close(done) })
		<-done

		assert.False(t, s.Disarm(timer))
		assert.Equal(t, 0, s.Armed())
	})

	t.Run("disarm nil is a no-op", func(t *testing.T) {
		s := NewTimeoutScheduler()
		assert.False(t, s.Disarm(nil))
	})

	t.Run("fire that loses to a message leaves the message outcome", func(t *testing.T) {
		s := NewTimeoutScheduler()
		slot := newSlot("k", time.Millisecond)
		require.True(t, slot.resolve(SlotMessage, outcome{payload: []byte("reply")}))

		fired := make(chan bool, 1)
		s.Arm(slot, time.Millisecond, func() {
			fired <- slot.resolve(SlotTimeout, outcome{err: ErrTimeout})
		})

		assert.False(t, <-fired)
		payload, err := slot.result()
		assert.NoError(t, err)
		assert.Equal(t, []byte("reply"), payload)
	})

	t.Run("armed count stays exact under concurrent disarm and fire", func(t *testing.T) {
		s := NewTimeoutScheduler()
		var wg sync.WaitGroup

		for i := 0; i < 200; i++ {
			timer := s.Arm(newSlot("k", 0), time.Duration(i%3)*time.Millisecond, func() {})
			wg.Add(1)
			go func() {
				defer wg.Done()
				time.Sleep(time.Millisecond)
				s.Disarm(timer)
			}()
		}
		wg.Wait()

		assert.Eventually(t, func() bool { return s.Armed() == 0 }, time.Second, 5*time.Millisecond)
	})
}
