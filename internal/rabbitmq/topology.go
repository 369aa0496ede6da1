package rabbitmq

import (
	"time"
)

// DirectReplyQueue is RabbitMQ's pseudo-queue for direct reply-to. It
// needs no declaration and must be consumed with auto-ack.
const DirectReplyQueue = "amq.rabbitmq.reply-to"

// ExchangeSpec describes an optional exchange the client publishes
// through instead of sending straight to the queue.
type ExchangeSpec struct {
	Name       string
	Type       string
	RoutingKey string
	Options    ExchangeOptions
}

// Topology is the set of declarations applied to every newly created
// channel. Immutable after client construction.
type Topology struct {
	Queue          string
	QueueOptions   QueueOptions
	Exchange       *ExchangeSpec
	PrefetchCount  int
	GlobalPrefetch bool

	// ReplyQueue is where responses are consumed from. Empty means
	// direct reply-to. A custom reply queue is expected to already
	// exist; it is not declared here.
	ReplyQueue string

	// NoAck consumes replies without explicit acknowledgment. Required
	// when using direct reply-to.
	NoAck bool
}

// ReplyTo returns the reply destination stamped on outgoing requests.
func (t Topology) ReplyTo() string {
	if t.ReplyQueue == "" {
		return DirectReplyQueue
	}
	return t.ReplyQueue
}

// Apply declares the topology on a fresh channel. Ordering is
// significant: the queue, exchange and binding must exist before any
// consumption starts, and prefetch must be set before the first
// delivery to bound in-flight unacknowledged messages. The caller
// starts consuming only after Apply succeeds.
func (t Topology) Apply(ch Channel) error {
	if err := ch.DeclareQueue(t.Queue, t.QueueOptions); err != nil {
		return &TopologyError{
			Component: "queue",
			Name:      t.Queue,
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	if t.Exchange != nil {
		if err := ch.DeclareExchange(t.Exchange.Name, t.Exchange.Type, t.Exchange.Options); err != nil {
			return &TopologyError{
				Component: "exchange",
				Name:      t.Exchange.Name,
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		if err := ch.BindQueue(t.Queue, t.Exchange.Name, t.Exchange.RoutingKey); err != nil {
			return &TopologyError{
				Component: "binding",
				Name:      t.Queue,
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	if err := ch.Qos(t.PrefetchCount, t.GlobalPrefetch); err != nil {
		return &TopologyError{
			Component: "prefetch",
			Name:      t.Queue,
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	return nil
}
