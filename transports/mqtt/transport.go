// Package mqtt carries bridge traffic over an MQTT broker using the Eclipse
// Paho client. The bridge subscribes to "#" so every topic reaches the
// dispatcher.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/romanesko/http-mqtt-bridge/messaging"
)

var (
	// ErrNotConnected is returned before Connect succeeded
	ErrNotConnected = errors.New("mqtt: not connected")
	// ErrTokenTimeout is returned when the broker did not answer in time
	ErrTokenTimeout = errors.New("mqtt: timed out waiting for broker")
)

// Config holds broker settings
type Config struct {
	ServerURI      string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// ClientFactory builds the Paho client; replaced in tests
type ClientFactory func(opts *paho.ClientOptions) paho.Client

// Transport implements messaging.Transport over MQTT
type Transport struct {
	cfg       Config
	logger    *slog.Logger
	newClient ClientFactory

	mu     sync.RWMutex
	client paho.Client

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

// WithClientFactory replaces paho.NewClient
func WithClientFactory(factory ClientFactory) Option {
	return func(t *Transport) {
		t.newClient = factory
	}
}

// NewTransport creates an MQTT transport. Nothing is dialled until Connect.
func NewTransport(cfg Config, opts ...Option) *Transport {
	if cfg.ClientID == "" {
		cfg.ClientID = "http-mqtt-bridge"
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}

	t := &Transport{
		cfg:       cfg,
		logger:    slog.Default(),
		newClient: paho.NewClient,
	}

	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("transport", "mqtt")

	return t
}

// Name implements messaging.Transport
func (t *Transport) Name() string {
	return "mqtt"
}

// ClientOptions builds the Paho options for the configured broker
func (t *Transport) ClientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.ServerURI).
		SetClientID(t.cfg.ClientID).
		SetUsername(t.cfg.Username).
		SetPassword(t.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetKeepAlive(t.cfg.KeepAlive).
		SetOrderMatters(false)

	// a clean session loses subscriptions, so subscribe on every (re)connect
	opts.SetOnConnectHandler(func(client paho.Client) {
		t.logger.Info("connected to MQTT broker", "server", t.cfg.ServerURI, "clientId", t.cfg.ClientID)
		if t.hasHandlers() {
			if err := t.subscribe(client); err != nil {
				t.logger.Error("failed to subscribe after connect", "error", err)
			}
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		t.logger.Warn("connection to MQTT broker lost", "error", err)
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		t.logger.Info("reconnecting to MQTT broker", "server", t.cfg.ServerURI)
	})

	return opts
}

// Connect dials the broker
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil && t.client.IsConnected() {
		return nil
	}

	client := t.newClient(t.ClientOptions())
	if err := wait(ctx, client.Connect(), t.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.cfg.ServerURI, err)
	}

	t.client = client
	return nil
}

// Publish implements messaging.Publisher. It returns once the broker
// acknowledged the message at the configured QoS.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	client, err := t.connectedClient()
	if err != nil {
		return err
	}

	return wait(ctx, client.Publish(topic, t.cfg.QoS, false, payload), t.cfg.ConnectTimeout)
}

// SubscribeAll implements messaging.Subscriber
func (t *Transport) SubscribeAll(ctx context.Context, handler messaging.DeliveryHandler) error {
	client, err := t.connectedClient()
	if err != nil {
		return err
	}

	t.handlersMu.Lock()
	first := len(t.handlers) == 0
	t.handlers = append(t.handlers, handler)
	t.handlersMu.Unlock()

	if !first {
		return nil
	}

	return t.subscribe(client)
}

func (t *Transport) subscribe(client paho.Client) error {
	token := client.Subscribe(messaging.WildcardTopic, t.cfg.QoS, t.onMessage)
	if !token.WaitTimeout(t.cfg.ConnectTimeout) {
		return ErrTokenTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", messaging.WildcardTopic, err)
	}

	t.logger.Info("listening on all topics", "qos", t.cfg.QoS)
	return nil
}

func (t *Transport) onMessage(_ paho.Client, msg paho.Message) {
	t.handlersMu.RLock()
	handlers := t.handlers
	t.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(context.Background(), msg.Topic(), msg.Payload())
	}
}

func (t *Transport) hasHandlers() bool {
	t.handlersMu.RLock()
	defer t.handlersMu.RUnlock()
	return len(t.handlers) > 0
}

func (t *Transport) connectedClient() (paho.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.client == nil {
		return nil, ErrNotConnected
	}
	return t.client, nil
}

// IsConnected implements messaging.Transport
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil && t.client.IsConnected()
}

// Close disconnects, giving in-flight work a quarter second to finish
func (t *Transport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
	return nil
}

// wait blocks until token completes, ctx is done or timeout elapses
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTokenTimeout
	}
}
