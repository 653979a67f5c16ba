// Package reliability provides the circuit breaker guarding broker publishes.
//
// When the broker is unreachable every publish would otherwise wait for its own
// publish timeout. The breaker opens after a run of failures and rejects calls
// immediately until a probe succeeds again.
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithName("publish"),
//	    WithFailureThreshold(5),
//	    WithTimeout(10 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return transport.Publish(ctx, topic, payload)
//	})
package reliability
