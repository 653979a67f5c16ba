package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes single messages and waits for the broker confirm.
// It never retries: a failed publish is reported to the caller as is.
type Publisher struct {
	pool           *ChannelPool
	confirmTimeout time.Duration
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout bounds the wait for a broker confirm
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// NewPublisher creates a new publisher
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 5 * time.Second,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish sends msg to exchange with routingKey and blocks until the broker acks it
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := p.pool.Get(ctx)
	if err != nil {
		return p.wrap(exchange, routingKey, err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(confirmCtx, exchange, routingKey, false, false, msg)
	if err != nil {
		p.pool.Put(ch)
		return p.wrap(exchange, routingKey, err)
	}

	acked, err := confirm.WaitContext(confirmCtx)
	if err != nil {
		// the pending confirm would be read by the next user of the channel
		p.pool.Discard(ch)
		return p.wrap(exchange, routingKey, fmt.Errorf("waiting for confirm: %w", err))
	}
	p.pool.Put(ch)

	if !acked {
		return p.wrap(exchange, routingKey, ErrPublishNotConfirmed)
	}

	return nil
}

func (p *Publisher) wrap(exchange, routingKey string, err error) error {
	return &PublishError{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Err:        err,
		Timestamp:  time.Now(),
	}
}
