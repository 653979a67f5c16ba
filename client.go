// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/romanesko/http-mqtt-bridge/bridge"
	"github.com/romanesko/http-mqtt-bridge/interceptors"
	"github.com/romanesko/http-mqtt-bridge/internal/reliability"
	"github.com/romanesko/http-mqtt-bridge/messaging"
	"github.com/romanesko/http-mqtt-bridge/otelbridge"
)

// Client wires a transport to the correlation engine. Publishes pass the
// interceptor chain, then a circuit breaker. Every inbound message is offered
// to the dispatcher.
type Client struct {
	transport  messaging.Transport
	publisher  *messaging.BreakerPublisher
	registry   *bridge.PendingRegistry
	engine     *bridge.Engine
	dispatcher *bridge.Dispatcher
	sender     bridge.Sender
	logger     *slog.Logger
}

// NewClient creates a client over transport. The transport is not connected
// until Start.
func NewClient(transport messaging.Transport, options ...ClientOption) (*Client, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}

	cfg := &clientConfig{
		logger:           slog.Default(),
		metrics:          bridge.NoOpMetricsCollector{},
		failureThreshold: 5,
		breakerTimeout:   10 * time.Second,
	}

	for _, opt := range options {
		opt(cfg)
	}

	breaker := reliability.NewCircuitBreaker(
		reliability.WithName(transport.Name()+"-publish"),
		reliability.WithFailureThreshold(cfg.failureThreshold),
		reliability.WithTimeout(cfg.breakerTimeout),
		reliability.WithListener(reliability.LogListener{Logger: cfg.logger}),
	)
	publisher := messaging.NewBreakerPublisher(transport, breaker)

	chain := interceptors.NewInterceptorChain(cfg.logger)
	for _, interceptor := range cfg.interceptors {
		chain.Add(interceptor)
	}

	registry := bridge.NewPendingRegistry()

	engineOpts := []bridge.EngineOption{
		bridge.WithEngineLogger(cfg.logger),
		bridge.WithMetrics(cfg.metrics),
	}
	if cfg.defaultTimeout > 0 {
		engineOpts = append(engineOpts, bridge.WithDefaultTimeout(cfg.defaultTimeout))
	}
	if cfg.maxTimeout > 0 {
		engineOpts = append(engineOpts, bridge.WithMaxTimeout(cfg.maxTimeout))
	}

	engine, err := bridge.NewEngine(chain.Wrap(publisher), registry, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	var sender bridge.Sender = engine
	if cfg.instrument {
		sender, err = otelbridge.NewInstrumentedEngine(engine, cfg.otelOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to instrument engine: %w", err)
		}
	}

	return &Client{
		transport:  transport,
		publisher:  publisher,
		registry:   registry,
		engine:     engine,
		dispatcher: bridge.NewDispatcher(registry, bridge.WithDispatcherMetrics(cfg.metrics)),
		sender:     sender,
		logger:     cfg.logger,
	}, nil
}

// Start connects the transport and installs the wildcard subscription.
// Sends made before Start fail with a transport error.
func (c *Client) Start(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect %s transport: %w", c.transport.Name(), err)
	}

	if err := c.transport.SubscribeAll(ctx, c.dispatcher.Handler()); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", messaging.WildcardTopic, err)
	}

	c.logger.Info("bridge started", "transport", c.transport.Name())
	return nil
}

// Send publishes req and, when it names a reply topic, waits for the reply
func (c *Client) Send(ctx context.Context, req bridge.OutboundRequest) ([]byte, error) {
	return c.sender.Send(ctx, req)
}

// Publish sends payload to topic without waiting for anything
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := c.Send(ctx, bridge.OutboundRequest{Topic: topic, Payload: payload})
	return err
}

// Request publishes payload to topic and waits up to timeout for a message on
// replyTopic. A zero timeout uses the engine default.
func (c *Client) Request(ctx context.Context, topic string, payload []byte, replyTopic string, timeout time.Duration) ([]byte, error) {
	return c.Send(ctx, bridge.OutboundRequest{
		Topic:      topic,
		Payload:    payload,
		ReplyTopic: replyTopic,
		Timeout:    timeout,
	})
}

// Sender returns what Send delegates to, instrumented when enabled
func (c *Client) Sender() bridge.Sender {
	return c.sender
}

// Engine returns the correlation engine
func (c *Client) Engine() *bridge.Engine {
	return c.engine
}

// Dispatcher returns the inbound message dispatcher
func (c *Client) Dispatcher() *bridge.Dispatcher {
	return c.dispatcher
}

// Breaker returns the circuit breaker guarding publishes
func (c *Client) Breaker() *reliability.CircuitBreaker {
	return c.publisher.Breaker()
}

// Transport returns the underlying transport
func (c *Client) Transport() messaging.Transport {
	return c.transport
}

// Close releases waiting senders, then closes the transport
func (c *Client) Close() error {
	if c.engine != nil {
		c.engine.Close()
	}
	if c.transport != nil {
		return c.transport.Close()
	}
	return nil
}

// clientConfig holds client configuration
type clientConfig struct {
	logger           *slog.Logger
	metrics          bridge.MetricsCollector
	defaultTimeout   time.Duration
	maxTimeout       time.Duration
	failureThreshold int
	breakerTimeout   time.Duration
	instrument       bool
	otelOptions      []otelbridge.Option
	interceptors     []interceptors.Interceptor
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithMetrics sets the collector the engine and dispatcher report to
func WithMetrics(metrics bridge.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		if metrics != nil {
			cfg.metrics = metrics
		}
	}
}

// WithDefaultTimeout sets the reply timeout for requests that carry none
func WithDefaultTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.defaultTimeout = timeout
	}
}

// WithMaxTimeout caps the reply timeout a request may ask for
func WithMaxTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.maxTimeout = timeout
	}
}

// WithBreaker sets how many consecutive publish failures open the circuit
// and how long it stays open
func WithBreaker(failureThreshold int, timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if failureThreshold > 0 {
			cfg.failureThreshold = failureThreshold
		}
		if timeout > 0 {
			cfg.breakerTimeout = timeout
		}
	}
}

// WithInstrumentation wraps the engine in an OpenTelemetry InstrumentedEngine
func WithInstrumentation(options ...otelbridge.Option) ClientOption {
	return func(cfg *clientConfig) {
		cfg.instrument = true
		cfg.otelOptions = options
	}
}

// WithInterceptors runs every publish through the given interceptors, in
// order, before the circuit breaker sees it
func WithInterceptors(list ...interceptors.Interceptor) ClientOption {
	return func(cfg *clientConfig) {
		cfg.interceptors = append(cfg.interceptors, list...)
	}
}
