// Package messaging defines the pub/sub transport contract used by the bridge.
//
// A Transport publishes byte payloads to named topics and delivers every inbound
// message of a wildcard subscription to a DeliveryHandler. Implementations live in
// the transports directory (MQTT, RabbitMQ, Redis and an in-memory loopback).
//
// BreakerPublisher guards any Publisher with a circuit breaker so that a broker
// outage fails fast instead of stalling every caller until its publish timeout.
package messaging
