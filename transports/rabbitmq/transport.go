// Package rabbitmq carries bridge traffic over a RabbitMQ topic exchange.
//
// Topics are mapped to routing keys the way the RabbitMQ MQTT plugin does it
// ("/" and "." swap places), so MQTT clients connected through the plugin and
// AMQP clients see the same topics.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/romanesko/http-mqtt-bridge/internal/rabbitmq"
	"github.com/romanesko/http-mqtt-bridge/messaging"
)

// DefaultExchange is the exchange the RabbitMQ MQTT plugin publishes to
const DefaultExchange = "amq.topic"

// ErrNotConnected is returned before Connect succeeded
var ErrNotConnected = errors.New("rabbitmq transport: not connected")

// Transport implements messaging.Transport for RabbitMQ
type Transport struct {
	url      string
	exchange string
	logger   *slog.Logger
	cfg      *TransportConfig

	mu        sync.RWMutex
	manager   *rabbitmq.ConnectionManager
	pool      *rabbitmq.ChannelPool
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
	topology  *rabbitmq.TopologyManager
	queue     string
	subCtx    context.Context

	// separate from mu: OnConnected waits for the consumer loop while holding mu
	handlersMu sync.RWMutex
	handlers   []messaging.DeliveryHandler
}

var _ messaging.Transport = (*Transport)(nil)

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	Exchange          string
	QueuePrefix       string
	Logger            *slog.Logger
	ConnectionOptions []rabbitmq.ConnectionOption
	PublisherOptions  []rabbitmq.PublisherOption
	ConsumerOptions   []rabbitmq.ConsumerOption
	PoolOptions       []rabbitmq.ChannelPoolOption
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithExchange sets the topic exchange to publish to and listen on
func WithExchange(exchange string) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Exchange = exchange
	}
}

// WithQueuePrefix sets the prefix of the private wildcard queue name
func WithQueuePrefix(prefix string) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.QueuePrefix = prefix
	}
}

// WithLogger sets the logger shared by the connection, consumer and transport
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPublisherOptions sets publisher options
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// WithConsumerOptions sets consumer options
func WithConsumerOptions(opts ...rabbitmq.ConsumerOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConsumerOptions = append(cfg.ConsumerOptions, opts...)
	}
}

// WithPoolOptions sets channel pool options
func WithPoolOptions(opts ...rabbitmq.ChannelPoolOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PoolOptions = append(cfg.PoolOptions, opts...)
	}
}

// NewTransport creates a RabbitMQ transport. Nothing is dialled until Connect.
func NewTransport(url string, options ...TransportOption) *Transport {
	cfg := &TransportConfig{
		Exchange:    DefaultExchange,
		QueuePrefix: "http-mqtt-bridge",
		Logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	return &Transport{
		url:      url,
		exchange: cfg.Exchange,
		logger:   cfg.Logger.With("transport", "rabbitmq"),
		cfg:      cfg,
	}
}

// Name implements messaging.Transport
func (t *Transport) Name() string {
	return "rabbitmq"
}

// Exchange returns the exchange used for publishing and listening
func (t *Transport) Exchange() string {
	return t.exchange
}

// Connect dials the broker and makes sure the exchange exists
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.manager != nil {
		return nil
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(t.logger)}, t.cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(t.url, connOpts...)
	if err := manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	pool, err := rabbitmq.NewChannelPool(manager, t.cfg.PoolOptions...)
	if err != nil {
		manager.Close()
		return fmt.Errorf("failed to create channel pool: %w", err)
	}

	topology := rabbitmq.NewTopologyManager(pool)
	if err := topology.DeclareExchange(ctx, rabbitmq.ExchangeDeclaration{
		Name:    t.exchange,
		Type:    amqp.ExchangeTopic,
		Durable: true,
	}); err != nil {
		pool.Close()
		manager.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	consumerOpts := append([]rabbitmq.ConsumerOption{rabbitmq.WithConsumerLogger(t.logger)}, t.cfg.ConsumerOptions...)

	t.manager = manager
	t.pool = pool
	t.topology = topology
	t.publisher = rabbitmq.NewPublisher(pool, t.cfg.PublisherOptions...)
	t.consumer = rabbitmq.NewConsumer(pool, consumerOpts...)

	manager.AddStateListener(t)

	return nil
}

// Publish implements messaging.Publisher
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.RLock()
	publisher := t.publisher
	t.mu.RUnlock()

	if publisher == nil {
		return ErrNotConnected
	}

	return publisher.Publish(ctx, t.exchange, TopicToRoutingKey(topic), amqp.Publishing{
		ContentType: "application/octet-stream",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        payload,
	})
}

// SubscribeAll binds a private queue to every routing key on the exchange and
// delivers each message to handler with its routing key mapped back to a topic.
// The subscription is re-established after a reconnect.
func (t *Transport) SubscribeAll(ctx context.Context, handler messaging.DeliveryHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.consumer == nil {
		return ErrNotConnected
	}

	t.handlersMu.Lock()
	t.handlers = append(t.handlers, handler)
	t.handlersMu.Unlock()

	if t.queue != "" {
		return nil
	}

	t.subCtx = context.WithoutCancel(ctx)
	return t.subscribeLocked(ctx)
}

// subscribeLocked must be called with mu held
func (t *Transport) subscribeLocked(ctx context.Context) error {
	queue, binding := rabbitmq.WildcardQueue(t.cfg.QueuePrefix+"."+uuid.NewString(), t.exchange)

	name, err := t.topology.DeclareBoundQueue(ctx, queue, binding)
	if err != nil {
		return fmt.Errorf("failed to declare wildcard queue: %w", err)
	}

	if err := t.consumer.Subscribe(t.subCtx, name, t.deliver); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	t.queue = name
	t.logger.Info("listening on all topics", "exchange", t.exchange, "queue", name)

	return nil
}

func (t *Transport) deliver(ctx context.Context, delivery amqp.Delivery) error {
	t.handlersMu.RLock()
	handlers := t.handlers
	t.handlersMu.RUnlock()

	topic := RoutingKeyToTopic(delivery.RoutingKey)
	for _, handler := range handlers {
		handler(ctx, topic, delivery.Body)
	}

	return nil
}

// OnConnected re-creates the wildcard queue, which died with the old connection
func (t *Transport) OnConnected() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.queue == "" || t.consumer == nil {
		return
	}

	stale := t.queue
	t.queue = ""
	if err := t.consumer.Unsubscribe(stale); err != nil && !errors.Is(err, rabbitmq.ErrConsumerNotFound) {
		t.logger.Warn("failed to stop stale consumer", "queue", stale, "error", err)
	}

	ctx, cancel := context.WithTimeout(t.subCtx, 30*time.Second)
	defer cancel()

	if err := t.subscribeLocked(ctx); err != nil {
		t.logger.Error("failed to resubscribe after reconnect", "error", err)
	}
}

// OnDisconnected implements rabbitmq.ConnectionStateListener
func (t *Transport) OnDisconnected(err error) {
	t.logger.Warn("disconnected from RabbitMQ", "error", err)
}

// OnReconnecting implements rabbitmq.ConnectionStateListener
func (t *Transport) OnReconnecting(attempt int) {
	t.logger.Info("reconnecting to RabbitMQ", "attempt", attempt)
}

// IsConnected implements messaging.Transport
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	manager := t.manager
	t.mu.RUnlock()

	return manager != nil && manager.IsConnected()
}

// Close stops the consumer and closes the channels and the connection
func (t *Transport) Close() error {
	t.mu.Lock()
	consumer, pool, manager := t.consumer, t.pool, t.manager
	t.consumer, t.pool, t.manager, t.publisher = nil, nil, nil, nil
	t.queue = ""
	t.mu.Unlock()

	if manager == nil {
		return nil
	}

	manager.RemoveStateListener(t)
	consumer.UnsubscribeAll()
	pool.Close()

	return manager.Close()
}

// TopicToRoutingKey maps an MQTT style topic to an AMQP routing key
func TopicToRoutingKey(topic string) string {
	return swapSeparators(topic)
}

// RoutingKeyToTopic maps an AMQP routing key back to an MQTT style topic
func RoutingKeyToTopic(routingKey string) string {
	return swapSeparators(routingKey)
}

func swapSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/':
			return '.'
		case '.':
			return '/'
		}
		return r
	}, s)
}
