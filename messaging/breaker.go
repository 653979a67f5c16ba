package messaging

import (
	"context"

	"github.com/romanesko/http-mqtt-bridge/internal/reliability"
)

// BreakerPublisher guards a Publisher with a circuit breaker. While the
// circuit is open Publish fails immediately with an error matching
// reliability.ErrCircuitOpen; it never retries.
type BreakerPublisher struct {
	next    Publisher
	breaker *reliability.CircuitBreaker
}

// NewBreakerPublisher wraps next
func NewBreakerPublisher(next Publisher, breaker *reliability.CircuitBreaker) *BreakerPublisher {
	if breaker == nil {
		breaker = reliability.NewCircuitBreaker(reliability.WithName("publish"))
	}
	return &BreakerPublisher{next: next, breaker: breaker}
}

// Publish implements Publisher
func (p *BreakerPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.breaker.Execute(ctx, func() error {
		return p.next.Publish(ctx, topic, payload)
	})
}

// Breaker returns the underlying circuit breaker
func (p *BreakerPublisher) Breaker() *reliability.CircuitBreaker {
	return p.breaker
}
