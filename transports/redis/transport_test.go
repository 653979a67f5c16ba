package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	topic   string
	payload string
}

type collector struct {
	mu   sync.Mutex
	msgs []received
}

func (c *collector) handle(_ context.Context, topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, received{topic: topic, payload: string(payload)})
}

func (c *collector) all() []received {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]received(nil), c.msgs...)
}

func newConnectedTransport(t *testing.T) *Transport {
	t.Helper()
	server := miniredis.RunT(t)

	tr := NewTransport(Config{Addr: server.Addr()})
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { tr.Close() })

	return tr
}

func TestTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("operations before Connect fail", func(t *testing.T) {
		tr := NewTransport(Config{Addr: "127.0.0.1:1"})

		assert.Equal(t, "redis", tr.Name())
		assert.False(t, tr.IsConnected())
		assert.ErrorIs(t, tr.Publish(ctx, "a", nil), ErrNotConnected)
		assert.ErrorIs(t, tr.SubscribeAll(ctx, func(context.Context, string, []byte) {}), ErrNotConnected)
		assert.NoError(t, tr.Close())
	})

	t.Run("Connect fails when the server is unreachable", func(t *testing.T) {
		tr := NewTransport(Config{Addr: "127.0.0.1:1"})
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		assert.Error(t, tr.Connect(ctx))
		assert.False(t, tr.IsConnected())
	})

	t.Run("publish reaches the wildcard subscription", func(t *testing.T) {
		tr := newConnectedTransport(t)
		c := &collector{}
		require.NoError(t, tr.SubscribeAll(ctx, c.handle))

		require.NoError(t, tr.Publish(ctx, "devices/1/ack", []byte("done")))
		require.NoError(t, tr.Publish(ctx, "sensors/temp", []byte("21.5")))

		assert.Eventually(t, func() bool { return len(c.all()) == 2 }, time.Second, 5*time.Millisecond)
		assert.ElementsMatch(t, []received{
			{topic: "devices/1/ack", payload: "done"},
			{topic: "sensors/temp", payload: "21.5"},
		}, c.all())
	})

	t.Run("second handler shares the subscription", func(t *testing.T) {
		tr := newConnectedTransport(t)
		first, second := &collector{}, &collector{}
		require.NoError(t, tr.SubscribeAll(ctx, first.handle))
		require.NoError(t, tr.SubscribeAll(ctx, second.handle))

		require.NoError(t, tr.Publish(ctx, "x", []byte("1")))

		assert.Eventually(t, func() bool {
			return len(first.all()) == 1 && len(second.all()) == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Close stops delivery", func(t *testing.T) {
		tr := newConnectedTransport(t)
		require.NoError(t, tr.SubscribeAll(ctx, func(context.Context, string, []byte) {}))

		require.NoError(t, tr.Close())
		assert.False(t, tr.IsConnected())
		assert.ErrorIs(t, tr.Publish(ctx, "a", nil), ErrNotConnected)
	})
}
