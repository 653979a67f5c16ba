// Package memory implements an in-process loopback transport.
//
// Every published message is delivered synchronously to all wildcard
// subscribers before Publish returns. It backs TRANSPORT=memory for local
// runs and the engine tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/romanesko/http-mqtt-bridge/messaging"
)

// ErrClosed is returned by Publish and SubscribeAll after Close
var ErrClosed = errors.New("memory: transport closed")

// Message is a recorded publish
type Message struct {
	Topic   string
	Payload []byte
}

// PublishHook runs after a message was recorded and before it is delivered.
// Returning an error fails the publish and suppresses delivery.
type PublishHook func(ctx context.Context, msg Message) error

// Transport implements messaging.Transport in memory
type Transport struct {
	mu        sync.RWMutex
	handlers  []messaging.DeliveryHandler
	published []Message
	hook      PublishHook
	closed    atomic.Bool
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport creates a connected loopback transport
func NewTransport() *Transport {
	return &Transport{}
}

// Name implements messaging.Transport
func (t *Transport) Name() string {
	return "memory"
}

// Connect implements messaging.Transport
func (t *Transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}
	return nil
}

// IsConnected implements messaging.Transport
func (t *Transport) IsConnected() bool {
	return !t.closed.Load()
}

// SetPublishHook installs hook for subsequent publishes; nil removes it
func (t *Transport) SetPublishHook(hook PublishHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hook = hook
}

// Publish implements messaging.Publisher
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}

	t.mu.Lock()
	t.published = append(t.published, msg)
	hook := t.hook
	t.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, msg); err != nil {
			return err
		}
	}

	t.Deliver(ctx, msg.Topic, msg.Payload)
	return nil
}

// Deliver hands a message to every subscriber as if it came from the broker
func (t *Transport) Deliver(ctx context.Context, topic string, payload []byte) {
	t.mu.RLock()
	handlers := make([]messaging.DeliveryHandler, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, topic, payload)
	}
}

// SubscribeAll implements messaging.Subscriber
func (t *Transport) SubscribeAll(ctx context.Context, handler messaging.DeliveryHandler) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
	return nil
}

// Published returns a copy of every message published so far
func (t *Transport) Published() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.published))
	copy(out, t.published)
	return out
}

// PublishedTo counts the messages published to topic
func (t *Transport) PublishedTo(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, msg := range t.published {
		if msg.Topic == topic {
			n++
		}
	}
	return n
}

// Close implements messaging.Transport
func (t *Transport) Close() error {
	t.closed.Store(true)
	t.mu.Lock()
	t.handlers = nil
	t.mu.Unlock()
	return nil
}
