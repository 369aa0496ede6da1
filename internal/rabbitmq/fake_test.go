package rabbitmq

import (
	"context"
	"fmt"
	"sync"
)

// Test fakes for the Connection/Channel interfaces.

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	errs  []error          // consumed per dial before conns
	conns []*fakeConnection // consumed per successful dial; last one repeats
	gate  chan struct{}     // when set, Dial blocks until closed
}

func (d *fakeDialer) Dial(url string) (Connection, error) {
	if d.gate != nil {
		<-d.gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++

	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	if len(d.conns) == 0 {
		conn := newFakeConnection()
		d.conns = append(d.conns, conn)
		return conn, nil
	}
	conn := d.conns[0]
	if len(d.conns) > 1 {
		d.conns = d.conns[1:]
	}
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeConnection struct {
	mu          sync.Mutex
	channels    []*fakeChannel
	receivers   []chan error
	failure     error
	failed      bool
	closed      bool
	channelErr  error
	nextChannel *fakeChannel  // returned by the next Channel call when set
	channelGate chan struct{} // when set, Channel blocks until closed
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{}
}

func (c *fakeConnection) Channel() (Channel, error) {
	if c.channelGate != nil {
		<-c.channelGate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channelErr != nil {
		return nil, c.channelErr
	}
	ch := c.nextChannel
	if ch == nil {
		ch = newFakeChannel()
	}
	c.nextChannel = nil
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan error) <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed {
		if c.failure != nil {
			receiver <- c.failure
		}
		close(receiver)
		return receiver
	}
	c.receivers = append(c.receivers, receiver)
	return receiver
}

// fail simulates the broker dropping the connection.
func (c *fakeConnection) fail(err error) {
	c.mu.Lock()
	c.failed = true
	c.failure = err
	receivers := c.receivers
	c.receivers = nil
	c.mu.Unlock()

	for _, r := range receivers {
		if err != nil {
			r <- err
		}
		close(r)
	}
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type sentMessage struct {
	queue      string
	exchange   string
	routingKey string
	msg        Publishing
}

type fakeChannel struct {
	mu                 sync.Mutex
	ops                []string
	sent               []sentMessage
	deliveries         chan Delivery
	closed             bool
	declareQueueErr    error
	declareExchangeErr error
	bindErr            error
	qosErr             error
	consumeErr         error
	publishErr         error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (c *fakeChannel) record(op string) {
	c.ops = append(c.ops, op)
}

func (c *fakeChannel) DeclareQueue(name string, options QueueOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("declareQueue:" + name)
	return c.declareQueueErr
}

func (c *fakeChannel) DeclareExchange(name, kind string, options ExchangeOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(fmt.Sprintf("declareExchange:%s:%s", name, kind))
	return c.declareExchangeErr
}

func (c *fakeChannel) BindQueue(queue, exchange, routingKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(fmt.Sprintf("bindQueue:%s:%s:%s", queue, exchange, routingKey))
	return c.bindErr
}

func (c *fakeChannel) Qos(prefetchCount int, global bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(fmt.Sprintf("qos:%d:%t", prefetchCount, global))
	return c.qosErr
}

func (c *fakeChannel) Consume(queue string, autoAck bool) (<-chan Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("consume:" + queue)
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	c.deliveries = make(chan Delivery, 16)
	return c.deliveries, nil
}

// deliver pushes an inbound frame to the consumer.
func (c *fakeChannel) deliver(d Delivery) {
	c.mu.Lock()
	deliveries := c.deliveries
	c.mu.Unlock()
	deliveries <- d
}

// die simulates the channel being torn down by the broker.
func (c *fakeChannel) die() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.deliveries != nil {
		close(c.deliveries)
		c.deliveries = nil
	}
}

func (c *fakeChannel) SendToQueue(ctx context.Context, queue string, msg Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.sent = append(c.sent, sentMessage{queue: queue, msg: msg})
	return nil
}

func (c *fakeChannel) Publish(ctx context.Context, exchange, routingKey string, msg Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.sent = append(c.sent, sentMessage{exchange: exchange, routingKey: routingKey, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.deliveries != nil {
		close(c.deliveries)
		c.deliveries = nil
	}
	return nil
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) opLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}
