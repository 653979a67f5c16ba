package bridge

import (
	"context"

	"github.com/romanesko/http-mqtt-bridge/messaging"
)

// Dispatcher feeds messages from the wildcard subscription into the registry
type Dispatcher struct {
	registry *PendingRegistry
	metrics  MetricsCollector
}

// DispatcherOption configures the dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherMetrics sets the metrics collector
func WithDispatcherMetrics(metrics MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a dispatcher resolving slots in registry
func NewDispatcher(registry *PendingRegistry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		metrics:  NoOpMetricsCollector{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch resolves the slot pending on topic with payload. Messages nobody
// waits for are ordinary traffic and are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, payload []byte) bool {
	if d.registry.Resolve(topic, payload) {
		d.metrics.SetPending(d.registry.Len())
		return true
	}

	d.metrics.RecordUnmatched()
	return false
}

// Handler adapts the dispatcher to a transport subscription
func (d *Dispatcher) Handler() messaging.DeliveryHandler {
	return func(ctx context.Context, topic string, payload []byte) {
		d.Dispatch(ctx, topic, payload)
	}
}
