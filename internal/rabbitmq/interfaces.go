package rabbitmq

import "context"

// Table carries message headers and declaration arguments.
type Table map[string]interface{}

// QueueOptions defines options for queue declaration
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Args       Table
}

// ExchangeOptions defines options for exchange declaration
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
	Args       Table
}

// Delivery is one inbound frame from the broker.
type Delivery struct {
	CorrelationID string
	ContentType   string
	Headers       Table
	Body          []byte
}

// Publishing is one outbound frame.
type Publishing struct {
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Headers       Table
	Body          []byte
}

// Channel is the subset of broker channel capabilities the client needs.
// The amqp091 driver provides the production implementation; tests
// substitute in-memory fakes.
type Channel interface {
	// DeclareQueue asserts that the queue exists, creating it if needed.
	DeclareQueue(name string, options QueueOptions) error

	// DeclareExchange asserts that the exchange exists.
	DeclareExchange(name, kind string, options ExchangeOptions) error

	// BindQueue binds a queue to an exchange with the given routing key.
	BindQueue(queue, exchange, routingKey string) error

	// Qos bounds the number of unacknowledged in-flight deliveries.
	Qos(prefetchCount int, global bool) error

	// Consume starts delivering frames from the queue. The returned
	// channel is closed when the broker channel dies.
	Consume(queue string, autoAck bool) (<-chan Delivery, error)

	// SendToQueue publishes directly to a queue via the default exchange.
	SendToQueue(ctx context.Context, queue string, msg Publishing) error

	// Publish publishes through an exchange with a routing key.
	Publish(ctx context.Context, exchange, routingKey string, msg Publishing) error

	Close() error
	IsClosed() bool
}

// Connection is an open broker link able to create channels and report
// its own death.
type Connection interface {
	// Channel opens a new channel on the connection.
	Channel() (Channel, error)

	// NotifyClose registers a listener for connection loss. The receiver
	// gets at most one error and is then closed; a close without an error
	// means the connection shut down gracefully.
	NotifyClose(receiver chan error) <-chan error

	Close() error
	IsClosed() bool
}

// Dialer opens broker connections.
type Dialer interface {
	Dial(url string) (Connection, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(url string) (Connection, error)

func (f DialerFunc) Dial(url string) (Connection, error) { return f(url) }
