package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/romanesko/http-mqtt-bridge/messaging"
)

// AckPayload is returned for fire-and-forget sends once the publish succeeded
const AckPayload = "ok"

const (
	defaultReplyTimeout = 5 * time.Second
	defaultMaxTimeout   = 5 * time.Minute
)

// OutboundRequest is a message to publish and, when ReplyTopic is set, the
// reply to wait for
type OutboundRequest struct {
	Topic      string
	Payload    []byte
	ReplyTopic string
	Timeout    time.Duration
}

// Sender is implemented by Engine and by wrappers around it
type Sender interface {
	Send(ctx context.Context, req OutboundRequest) ([]byte, error)
}

// Engine correlates published requests with replies arriving on the reply topic
type Engine struct {
	publisher      messaging.Publisher
	registry       *PendingRegistry
	scheduler      *TimeoutScheduler
	logger         *slog.Logger
	metrics        MetricsCollector
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	closed         atomic.Bool
}

// EngineOption configures the engine
type EngineOption func(*EngineConfig)

// EngineConfig holds configuration for the engine
type EngineConfig struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	Scheduler      *TimeoutScheduler
	Logger         *slog.Logger
	Metrics        MetricsCollector
}

// WithDefaultTimeout sets the timeout used when a request carries none
func WithDefaultTimeout(timeout time.Duration) EngineOption {
	return func(c *EngineConfig) {
		c.DefaultTimeout = timeout
	}
}

// WithMaxTimeout caps the timeout a request may ask for
func WithMaxTimeout(timeout time.Duration) EngineOption {
	return func(c *EngineConfig) {
		c.MaxTimeout = timeout
	}
}

// WithTimeoutScheduler shares a scheduler, mostly useful in tests
func WithTimeoutScheduler(scheduler *TimeoutScheduler) EngineOption {
	return func(c *EngineConfig) {
		c.Scheduler = scheduler
	}
}

// WithEngineLogger sets the logger
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(c *EngineConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) EngineOption {
	return func(c *EngineConfig) {
		c.Metrics = metrics
	}
}

// NewEngine creates an engine publishing through publisher and parking
// senders in registry. The same registry must be handed to the Dispatcher
// that is fed by the transport subscription.
func NewEngine(publisher messaging.Publisher, registry *PendingRegistry, opts ...EngineOption) (*Engine, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	config := &EngineConfig{
		DefaultTimeout: defaultReplyTimeout,
		MaxTimeout:     defaultMaxTimeout,
		Logger:         slog.Default(),
		Metrics:        NoOpMetricsCollector{},
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.DefaultTimeout <= 0 {
		return nil, fmt.Errorf("default timeout must be positive, got %v", config.DefaultTimeout)
	}
	if config.Scheduler == nil {
		config.Scheduler = NewTimeoutScheduler()
	}

	return &Engine{
		publisher:      publisher,
		registry:       registry,
		scheduler:      config.Scheduler,
		logger:         config.Logger,
		metrics:        config.Metrics,
		defaultTimeout: config.DefaultTimeout,
		maxTimeout:     config.MaxTimeout,
	}, nil
}

// Send publishes req.Payload to req.Topic. Without a reply topic it returns
// AckPayload as soon as the publish succeeded. With one, it blocks until a
// message arrives on the reply topic, the timeout fires, the publish fails
// or ctx is done, whichever happens first.
func (e *Engine) Send(ctx context.Context, req OutboundRequest) ([]byte, error) {
	start := time.Now()
	mode := ModeFireAndForget
	if req.ReplyTopic != "" {
		mode = ModeRequestReply
	}

	payload, err := e.send(ctx, req)

	e.metrics.RecordSend(mode, outcomeLabel(err), time.Since(start))
	e.metrics.SetPending(e.registry.Len())

	return payload, err
}

func (e *Engine) send(ctx context.Context, req OutboundRequest) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if req.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}

	if req.ReplyTopic == "" {
		if err := e.publish(ctx, req); err != nil {
			return nil, err
		}
		return []byte(AckPayload), nil
	}

	timeout := e.effectiveTimeout(req.Timeout)

	// register before publish so an immediate reply cannot be missed
	slot, err := e.registry.Register(req.ReplyTopic, timeout)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("adding reply listener", "replyTopic", req.ReplyTopic, "timeout", timeout)

	timer := e.scheduler.Arm(slot, timeout, func() {
		if slot.resolve(SlotTimeout, outcome{err: ErrTimeout}) {
			e.registry.release(slot)
		}
	})

	defer func() {
		e.scheduler.Disarm(timer)
		e.registry.release(slot)
		e.logger.Debug("removing reply listener",
			"replyTopic", req.ReplyTopic,
			"state", slot.State().String(),
			"elapsed", time.Since(slot.CreatedAt()))
	}()

	// Close may have swept the registry between the check above and Register
	if e.closed.Load() {
		slot.resolve(SlotCancelled, outcome{err: ErrEngineClosed})
		return slot.result()
	}

	if err := e.publish(ctx, req); err != nil {
		slot.resolve(SlotFailed, outcome{err: err})
	}

	select {
	case <-slot.Done():
	case <-ctx.Done():
		slot.resolve(SlotCancelled, outcome{err: ctx.Err()})
		<-slot.Done()
	}

	return slot.result()
}

func (e *Engine) publish(ctx context.Context, req OutboundRequest) error {
	if err := e.publisher.Publish(ctx, req.Topic, req.Payload); err != nil {
		return &TransportError{Topic: req.Topic, Err: err}
	}
	return nil
}

func (e *Engine) effectiveTimeout(requested time.Duration) time.Duration {
	timeout := requested
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if e.maxTimeout > 0 && timeout > e.maxTimeout {
		timeout = e.maxTimeout
	}
	return timeout
}

// Pending returns the number of senders waiting for a reply
func (e *Engine) Pending() int {
	return e.registry.Len()
}

// Registry returns the registry the engine parks senders in
func (e *Engine) Registry() *PendingRegistry {
	return e.registry
}

// Scheduler returns the timeout scheduler
func (e *Engine) Scheduler() *TimeoutScheduler {
	return e.scheduler
}

// Close rejects new sends and releases every waiting sender with ErrEngineClosed
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	released := 0
	e.registry.Range(func(slot *Slot) bool {
		if slot.resolve(SlotCancelled, outcome{err: ErrEngineClosed}) {
			e.registry.release(slot)
			released++
		}
		return true
	})

	if released > 0 {
		e.logger.Info("released pending senders on close", "count", released)
	}

	return nil
}
