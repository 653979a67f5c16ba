// Package rabbitmq wraps amqp091-go for the bridge's RabbitMQ transport.
//
// This package includes:
//   - ConnectionManager: one AMQP connection with automatic reconnection and
//     state notifications, so subscriptions can be re-established
//   - ChannelPool: confirm-mode channels shared by concurrent publishers
//   - Publisher: single publishes awaiting the broker confirm
//   - Consumer: long-lived deliveries from one queue into a handler
//   - TopologyManager: exchanges, queues and bindings, including the
//     exclusive wildcard queue the bridge listens on
package rabbitmq
