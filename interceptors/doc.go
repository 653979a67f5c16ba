// Package interceptors runs outbound publishes through a chain of checks
// before they reach the broker.
//
// Built-in interceptors:
//   - FilteringInterceptor: rejects topics outside the configured MQTT filters
//   - PayloadLimitInterceptor: rejects oversized payloads
//   - TimeoutInterceptor: bounds a single publish
//   - LoggingInterceptor: logs publishes with timing information
//
// Example usage:
//
//	chain := interceptors.NewInterceptorChain(logger).
//		Add(interceptors.NewFilteringInterceptor(interceptors.NewTopicFilter(nil, []string{"$SYS/#"}))).
//		Add(interceptors.NewLoggingInterceptor(logger))
//
//	publisher := chain.Wrap(transport)
//
// Interceptors are executed in the order they are added to the chain, with the
// wrapped publisher being called last.
package interceptors
