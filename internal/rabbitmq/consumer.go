package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandler processes one delivery. Errors are logged; with manual
// acknowledgement they also nack the delivery without requeueing.
type DeliveryHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer manages message consumption from RabbitMQ
type Consumer struct {
	pool            *ChannelPool
	prefetchCount   int
	autoAck         bool
	exclusive       bool
	logger          *slog.Logger
	activeConsumers sync.Map // queue -> *ConsumerInfo
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithAutoAck enables automatic acknowledgment
func WithAutoAck(autoAck bool) ConsumerOption {
	return func(c *Consumer) {
		c.autoAck = autoAck
	}
}

// WithExclusive sets exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a new consumer
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:          pool,
		prefetchCount: 64,
		autoAck:       true,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// ConsumerInfo tracks an active subscription
type ConsumerInfo struct {
	Queue       string
	ConsumerTag string
	Channel     *PooledChannel
	Cancel      context.CancelFunc
	Done        chan struct{}
}

// Subscribe starts consuming queue on a dedicated channel. The subscription
// ends when ctx is done, Unsubscribe is called or the channel closes.
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler DeliveryHandler) error {
	if _, exists := c.activeConsumers.Load(queue); exists {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: fmt.Errorf("%w: already subscribed", ErrInvalidConfiguration), Timestamp: time.Now()}
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: err, Timestamp: time.Now()}
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Discard(ch)
		return &ConsumerError{Queue: queue, ConsumerTag: ch.ID(), Op: "qos", Err: err, Timestamp: time.Now()}
	}

	deliveries, err := ch.Consume(queue, ch.ID(), c.autoAck, c.exclusive, false, false, nil)
	if err != nil {
		c.pool.Discard(ch)
		return &ConsumerError{Queue: queue, ConsumerTag: ch.ID(), Op: "consume", Err: err, Timestamp: time.Now()}
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	info := &ConsumerInfo{
		Queue:       queue,
		ConsumerTag: ch.ID(),
		Channel:     ch,
		Cancel:      cancel,
		Done:        make(chan struct{}),
	}
	c.activeConsumers.Store(queue, info)

	go c.processMessages(consumerCtx, info, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", info.ConsumerTag,
		"prefetchCount", c.prefetchCount)

	return nil
}

func (c *Consumer) processMessages(ctx context.Context, info *ConsumerInfo, deliveries <-chan amqp.Delivery, handler DeliveryHandler) {
	defer func() {
		c.activeConsumers.CompareAndDelete(info.Queue, info)
		// a channel that carried a consumer is never handed out again
		c.pool.Discard(info.Channel)
		close(info.Done)
		c.logger.Info("consumer stopped", "queue", info.Queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", info.Queue)
				return
			}
			c.handleMessage(ctx, info.Queue, delivery, handler)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, queue string, delivery amqp.Delivery, handler DeliveryHandler) {
	err := handler(ctx, delivery)
	if err != nil {
		c.logger.Error("failed to handle delivery",
			"error", err,
			"queue", queue,
			"routingKey", delivery.RoutingKey)
	}

	if c.autoAck {
		return
	}

	if err != nil {
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			c.logger.Error("failed to nack delivery", "error", nackErr)
		}
		return
	}
	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("failed to ack delivery", "error", ackErr)
	}
}

// Unsubscribe stops consuming from queue and waits for the loop to exit
func (c *Consumer) Unsubscribe(queue string) error {
	value, ok := c.activeConsumers.Load(queue)
	if !ok {
		return fmt.Errorf("%w for queue %s", ErrConsumerNotFound, queue)
	}

	info := value.(*ConsumerInfo)
	info.Cancel()
	<-info.Done

	return nil
}

// UnsubscribeAll stops all active consumers
func (c *Consumer) UnsubscribeAll() {
	var wg sync.WaitGroup

	c.activeConsumers.Range(func(key, value interface{}) bool {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			if err := c.Unsubscribe(queue); err != nil {
				c.logger.Debug("unsubscribe skipped", "queue", queue, "error", err)
			}
		}(key.(string))
		return true
	})

	wg.Wait()
}

// ActiveConsumers returns the queues currently consumed
func (c *Consumer) ActiveConsumers() []string {
	var queues []string
	c.activeConsumers.Range(func(key, value interface{}) bool {
		queues = append(queues, key.(string))
		return true
	})
	return queues
}
