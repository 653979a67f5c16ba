package otelbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/romanesko/http-mqtt-bridge/bridge"
)

type senderFunc func(ctx context.Context, req bridge.OutboundRequest) ([]byte, error)

func (f senderFunc) Send(ctx context.Context, req bridge.OutboundRequest) ([]byte, error) {
	return f(ctx, req)
}

func newInstrumented(t *testing.T, sender bridge.Sender) (*InstrumentedEngine, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ie, err := NewInstrumentedEngine(sender,
		WithTracerProvider(provider),
		WithMeterProvider(metricnoop.NewMeterProvider()),
	)
	require.NoError(t, err)

	return ie, recorder
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestInstrumentedEngine(t *testing.T) {
	t.Run("rejects a nil sender", func(t *testing.T) {
		_, err := NewInstrumentedEngine(nil)
		assert.Error(t, err)
	})

	t.Run("records a span for a successful request-reply", func(t *testing.T) {
		ie, recorder := newInstrumented(t, senderFunc(func(ctx context.Context, req bridge.OutboundRequest) ([]byte, error) {
			return []byte("pong"), nil
		}))

		payload, err := ie.Send(context.Background(), bridge.OutboundRequest{
			Topic:      "devices/1/ping",
			ReplyTopic: "devices/1/pong",
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("pong"), payload)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "bridge.Engine.Send", spans[0].Name())
		assert.Equal(t, codes.Unset, spans[0].Status().Code)

		got := attrs(spans[0].Attributes())
		assert.Equal(t, bridge.ModeRequestReply, got[ModeAttribute].AsString())
		assert.Equal(t, "devices/1/ping", got[TopicAttribute].AsString())
		assert.Equal(t, "devices/1/pong", got[ReplyTopicAttribute].AsString())
	})

	t.Run("marks timeouts as errors", func(t *testing.T) {
		ie, recorder := newInstrumented(t, senderFunc(func(ctx context.Context, req bridge.OutboundRequest) ([]byte, error) {
			return nil, bridge.ErrTimeout
		}))

		_, err := ie.Send(context.Background(), bridge.OutboundRequest{Topic: "a", ReplyTopic: "b"})
		assert.ErrorIs(t, err, bridge.ErrTimeout)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.True(t, attrs(spans[0].Attributes())[TimedOutAttribute].AsBool())
		assert.NotEmpty(t, spans[0].Events())
	})

	t.Run("fire-and-forget carries no reply attributes", func(t *testing.T) {
		ie, recorder := newInstrumented(t, senderFunc(func(ctx context.Context, req bridge.OutboundRequest) ([]byte, error) {
			return []byte(bridge.AckPayload), nil
		}))

		_, err := ie.Send(context.Background(), bridge.OutboundRequest{Topic: "a"})
		require.NoError(t, err)

		got := attrs(recorder.Ended()[0].Attributes())
		assert.Equal(t, bridge.ModeFireAndForget, got[ModeAttribute].AsString())
		_, ok := got[ReplyTopicAttribute]
		assert.False(t, ok)
	})
}
