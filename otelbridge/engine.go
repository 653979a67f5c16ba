// Package otelbridge instruments a bridge.Sender with OpenTelemetry traces
// and metrics.
package otelbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/romanesko/http-mqtt-bridge/bridge"
)

// Attribute keys used by the InstrumentedEngine instrumentation.
const (
	ErrorAttribute      attribute.Key = "error"
	ModeAttribute       attribute.Key = "bridge.mode"
	TopicAttribute      attribute.Key = "messaging.destination.name"
	ReplyTopicAttribute attribute.Key = "bridge.reply_topic"
	TimeoutAttribute    attribute.Key = "bridge.timeout_ms"
	TimedOutAttribute   attribute.Key = "bridge.timed_out"
)

// InstrumentedEngine wraps a bridge.Sender and records a span and a
// duration measurement for every Send.
//
// Use NewInstrumentedEngine for constructing a new instance of this type.
type InstrumentedEngine struct {
	sender bridge.Sender

	tracer       trace.Tracer
	sendDuration metric.Int64Histogram
}

var _ bridge.Sender = (*InstrumentedEngine)(nil)

func (ie *InstrumentedEngine) registerMetrics(meter metric.Meter) error {
	var err error

	if ie.sendDuration, err = meter.Int64Histogram(
		"bridge.send.duration.milliseconds",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in milliseconds of bridge Send operations performed."),
	); err != nil {
		return fmt.Errorf("otelbridge.InstrumentedEngine: failed to register metric: %w", err)
	}

	return nil
}

// NewInstrumentedEngine returns a wrapper providing OpenTelemetry
// instrumentation around sender.
//
// An error is returned if metrics could not be registered.
func NewInstrumentedEngine(sender bridge.Sender, options ...Option) (*InstrumentedEngine, error) {
	if sender == nil {
		return nil, errors.New("otelbridge.InstrumentedEngine: sender cannot be nil")
	}

	cfg := newConfig(options...)

	ie := &InstrumentedEngine{
		sender: sender,
		tracer: cfg.tracer(),
	}

	if err := ie.registerMetrics(cfg.meter()); err != nil {
		return nil, err
	}

	return ie, nil
}

// Send calls the wrapped Sender and records metrics and traces around it.
func (ie *InstrumentedEngine) Send(ctx context.Context, req bridge.OutboundRequest) (payload []byte, err error) {
	mode := bridge.ModeFireAndForget
	if req.ReplyTopic != "" {
		mode = bridge.ModeRequestReply
	}

	attributes := []attribute.KeyValue{
		ModeAttribute.String(mode),
	}

	//nolint:gocritic // Not appending to the same slice done on purpose.
	spanAttributes := append(attributes,
		TopicAttribute.String(req.Topic),
	)
	if req.ReplyTopic != "" {
		spanAttributes = append(spanAttributes,
			ReplyTopicAttribute.String(req.ReplyTopic),
			TimeoutAttribute.Int64(req.Timeout.Milliseconds()),
		)
	}

	ctx, span := ie.tracer.Start(ctx, "bridge.Engine.Send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(spanAttributes...),
	)
	start := time.Now()

	defer func() {
		attributes := append(attributes, ErrorAttribute.Bool(err != nil))

		ie.sendDuration.Record(ctx, time.Since(start).Milliseconds(), metric.WithAttributes(attributes...))

		if err != nil {
			span.SetAttributes(TimedOutAttribute.Bool(errors.Is(err, bridge.ErrTimeout)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	payload, err = ie.sender.Send(ctx, req)

	return
}
