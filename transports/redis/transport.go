// Package redis carries bridge traffic over Redis pub/sub. Topics are used
// as channel names unchanged and the bridge listens with PSUBSCRIBE "*".
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/romanesko/http-mqtt-bridge/messaging"
)

// ChannelWildcard is the glob pattern matching every channel
const ChannelWildcard = "*"

// ErrNotConnected is returned before Connect succeeded
var ErrNotConnected = errors.New("redis: not connected")

// Config holds server settings
type Config struct {
	Addr     string
	Password string // optional
	DB       int    // optional
}

// Transport implements messaging.Transport over Redis pub/sub
type Transport struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	client *goredis.Client
	pubsub *goredis.PubSub
	done   chan struct{}

	handlersMu sync.RWMutex
	handlers   []messaging.DeliveryHandler
}

var _ messaging.Transport = (*Transport)(nil)

// Option configures the transport
type Option func(*Transport)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a Redis transport. Nothing is dialled until Connect.
func NewTransport(cfg Config, opts ...Option) *Transport {
	t := &Transport{
		cfg:    cfg,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("transport", "redis")

	return t
}

// Name implements messaging.Transport
func (t *Transport) Name() string {
	return "redis"
}

// Connect creates the client and checks the server answers
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:       t.cfg.Addr,
		Password:   t.cfg.Password,
		DB:         t.cfg.DB,
		ClientName: "http-mqtt-bridge-" + uuid.NewString()[:8],
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	t.client = client
	t.logger.Info("connected to redis", "addr", t.cfg.Addr, "db", t.cfg.DB)

	return nil
}

// Publish implements messaging.Publisher. Redis does not report whether
// anyone received the message; only connection errors fail the publish.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	if client == nil {
		return ErrNotConnected
	}

	if err := client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %q: %w", topic, err)
	}
	return nil
}

// SubscribeAll implements messaging.Subscriber. The pattern subscription is
// made once and the returned channel survives reconnects.
func (t *Transport) SubscribeAll(ctx context.Context, handler messaging.DeliveryHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return ErrNotConnected
	}

	t.handlersMu.Lock()
	t.handlers = append(t.handlers, handler)
	t.handlersMu.Unlock()

	if t.pubsub != nil {
		return nil
	}

	pubsub := t.client.PSubscribe(ctx, ChannelWildcard)
	// wait for the confirmation so messages published after return are seen
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to psubscribe: %w", err)
	}

	t.pubsub = pubsub
	t.done = make(chan struct{})
	go t.receive(pubsub.Channel(), t.done)

	t.logger.Info("listening on all channels", "pattern", ChannelWildcard)

	return nil
}

func (t *Transport) receive(messages <-chan *goredis.Message, done chan struct{}) {
	defer close(done)

	for msg := range messages {
		t.handlersMu.RLock()
		handlers := t.handlers
		t.handlersMu.RUnlock()

		payload := []byte(msg.Payload)
		for _, handler := range handlers {
			handler(context.Background(), msg.Channel, payload)
		}
	}
}

// IsConnected implements messaging.Transport
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil
}

// Close stops the subscription and closes the client
func (t *Transport) Close() error {
	t.mu.Lock()
	client, pubsub, done := t.client, t.pubsub, t.done
	t.client, t.pubsub, t.done = nil, nil, nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}

	if pubsub != nil {
		pubsub.Close()
		<-done
	}

	return client.Close()
}
