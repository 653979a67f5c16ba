package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/romanesko/http-mqtt-bridge/messaging"
)

// Message is a single outbound publish as seen by the pipeline
type Message struct {
	Topic   string
	Payload []byte
}

// Interceptor processes a publish before it reaches the transport
type Interceptor interface {
	// Intercept inspects msg and calls next to let the publish through
	Intercept(ctx context.Context, msg Message, next messaging.Publisher) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, msg Message, next messaging.Publisher) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, msg Message, next messaging.Publisher) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, msg Message, next messaging.Publisher) error {
	return i.fn(ctx, msg, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain runs interceptors in the order they were added
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors
func (c *InterceptorChain) Len() int {
	return len(c.interceptors)
}

// Execute runs msg through the chain and finally through publisher
func (c *InterceptorChain) Execute(ctx context.Context, msg Message, publisher messaging.Publisher) error {
	if len(c.interceptors) == 0 {
		return publisher.Publish(ctx, msg.Topic, msg.Payload)
	}

	// Build the chain in reverse order
	next := publisher
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		current := next
		next = messaging.PublisherFunc(func(ctx context.Context, topic string, payload []byte) error {
			return interceptor.Intercept(ctx, Message{Topic: topic, Payload: payload}, current)
		})
	}

	return next.Publish(ctx, msg.Topic, msg.Payload)
}

// Wrap returns a Publisher that sends every publish through the chain
func (c *InterceptorChain) Wrap(publisher messaging.Publisher) messaging.Publisher {
	if len(c.interceptors) == 0 {
		return publisher
	}
	return messaging.PublisherFunc(func(ctx context.Context, topic string, payload []byte) error {
		return c.Execute(ctx, Message{Topic: topic, Payload: payload}, publisher)
	})
}

// Built-in interceptors

// LoggingInterceptor logs every publish at debug level and failures at warn
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, msg Message, next messaging.Publisher) error {
	start := time.Now()

	err := next.Publish(ctx, msg.Topic, msg.Payload)
	duration := time.Since(start)

	if err != nil {
		i.logger.Warn("publish failed",
			"topic", msg.Topic,
			"size", len(msg.Payload),
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Debug("published",
			"topic", msg.Topic,
			"size", len(msg.Payload),
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// TimeoutInterceptor bounds how long a single publish may block
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor) Intercept(ctx context.Context, msg Message, next messaging.Publisher) error {
	if i.timeout <= 0 {
		return next.Publish(ctx, msg.Topic, msg.Payload)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	if err := next.Publish(ctx, msg.Topic, msg.Payload); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("publish to %q timed out after %v: %w", msg.Topic, i.timeout, err)
		}
		return err
	}
	return nil
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}
