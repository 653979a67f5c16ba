package messaging

import (
	"context"
)

// WildcardTopic is the subscription filter that matches every topic
const WildcardTopic = "#"

// DeliveryHandler receives every inbound message of a wildcard subscription.
// It runs on the transport's delivery goroutine and must not block for long.
type DeliveryHandler func(ctx context.Context, topic string, payload []byte)

// Publisher defines the interface for publishing payloads to named topics
type Publisher interface {
	// Publish sends payload to topic. Any error means the message may not
	// have been delivered to the broker.
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber defines the interface for the wildcard subscription
type Subscriber interface {
	// SubscribeAll delivers every message on every topic to handler.
	// The subscription is live once SubscribeAll returns without error.
	SubscribeAll(ctx context.Context, handler DeliveryHandler) error
}

// Transport provides both publisher and subscriber functionality
type Transport interface {
	Publisher
	Subscriber

	// Name identifies the transport in logs and health checks
	Name() string

	// Connect establishes connection to the broker
	Connect(ctx context.Context) error

	// IsConnected returns connection status
	IsConnected() bool

	// Close closes all resources
	Close() error
}

// PublisherFunc is a function adapter for Publisher
type PublisherFunc func(ctx context.Context, topic string, payload []byte) error

// Publish implements Publisher
func (f PublisherFunc) Publish(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}
