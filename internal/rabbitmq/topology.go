package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TopicWildcard is the AMQP topic-exchange binding key matching every routing key
const TopicWildcard = "#"

// TopologyManager declares exchanges, queues and bindings
type TopologyManager struct {
	pool *ChannelPool
}

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared. An empty Name asks the
// broker to generate one.
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{pool: pool}
}

// DeclareExchange declares a single exchange. Pre-declared amq.* exchanges are
// only checked passively because redeclaring them is refused by the broker.
func (tm *TopologyManager) DeclareExchange(ctx context.Context, exchange ExchangeDeclaration) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		var err error
		if IsPredeclared(exchange.Name) {
			err = ch.ExchangeDeclarePassive(exchange.Name, exchange.Type, exchange.Durable, exchange.AutoDelete, false, false, exchange.Arguments)
		} else {
			err = ch.ExchangeDeclare(exchange.Name, exchange.Type, exchange.Durable, exchange.AutoDelete, false, false, exchange.Arguments)
		}
		if err != nil {
			return &TopologyError{Component: "exchange", Name: exchange.Name, Err: err}
		}
		return nil
	})
}

// DeclareBoundQueue declares queue and binds it with every binding on the same
// channel, returning the queue name the broker settled on
func (tm *TopologyManager) DeclareBoundQueue(ctx context.Context, queue QueueDeclaration, bindings ...Binding) (string, error) {
	var name string
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclare(queue.Name, queue.Durable, queue.AutoDelete, queue.Exclusive, false, queue.Arguments)
		if err != nil {
			return &TopologyError{Component: "queue", Name: queue.Name, Err: err}
		}
		name = q.Name

		for _, b := range bindings {
			if err := ch.QueueBind(q.Name, b.RoutingKey, b.Exchange, false, b.Arguments); err != nil {
				return &TopologyError{Component: "binding", Name: q.Name + "->" + b.Exchange, Err: err}
			}
		}
		return nil
	})
	return name, err
}

// WildcardQueue describes the private queue a bridge instance listens on:
// exclusive to the connection, deleted with it, bound to everything
// published on exchange.
func WildcardQueue(name, exchange string) (QueueDeclaration, Binding) {
	return QueueDeclaration{
			Name:       name,
			AutoDelete: true,
			Exclusive:  true,
		}, Binding{
			Exchange:   exchange,
			RoutingKey: TopicWildcard,
		}
}

// IsPredeclared reports whether name is one of the broker's amq.* exchanges
func IsPredeclared(name string) bool {
	return len(name) > 4 && name[:4] == "amq."
}
