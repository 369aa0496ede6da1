package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AmqpDialer returns the production Dialer backed by the amqp091 driver.
func AmqpDialer() Dialer {
	return DialerFunc(func(url string) (Connection, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, err
		}
		return &amqpConnection{conn: conn}, nil
	})
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConnection) NotifyClose(receiver chan error) <-chan error {
	closes := c.conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		defer close(receiver)
		if err, ok := <-closes; ok && err != nil {
			receiver <- err
		}
	}()
	return receiver
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) DeclareQueue(name string, options QueueOptions) error {
	_, err := c.ch.QueueDeclare(
		name,
		options.Durable,
		options.AutoDelete,
		options.Exclusive,
		false, // no-wait
		amqp.Table(options.Args),
	)
	return err
}

func (c *amqpChannel) DeclareExchange(name, kind string, options ExchangeOptions) error {
	return c.ch.ExchangeDeclare(
		name,
		kind,
		options.Durable,
		options.AutoDelete,
		false, // internal
		false, // no-wait
		amqp.Table(options.Args),
	)
}

func (c *amqpChannel) BindQueue(queue, exchange, routingKey string) error {
	return c.ch.QueueBind(queue, routingKey, exchange, false, nil)
}

func (c *amqpChannel) Qos(prefetchCount int, global bool) error {
	return c.ch.Qos(prefetchCount, 0, global)
}

func (c *amqpChannel) Consume(queue string, autoAck bool) (<-chan Delivery, error) {
	deliveries, err := c.ch.Consume(
		queue,
		"", // consumer tag, broker-generated
		autoAck,
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for d := range deliveries {
			out <- Delivery{
				CorrelationID: d.CorrelationId,
				ContentType:   d.ContentType,
				Headers:       Table(d.Headers),
				Body:          d.Body,
			}
		}
	}()
	return out, nil
}

func (c *amqpChannel) SendToQueue(ctx context.Context, queue string, msg Publishing) error {
	return c.publish(ctx, "", queue, msg)
}

func (c *amqpChannel) Publish(ctx context.Context, exchange, routingKey string, msg Publishing) error {
	return c.publish(ctx, exchange, routingKey, msg)
}

func (c *amqpChannel) publish(ctx context.Context, exchange, routingKey string, msg Publishing) error {
	return c.ch.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			Headers:       amqp.Table(msg.Headers),
			ContentType:   msg.ContentType,
			CorrelationId: msg.CorrelationID,
			ReplyTo:       msg.ReplyTo,
			Body:          msg.Body,
		},
	)
}

func (c *amqpChannel) Close() error {
	return c.ch.Close()
}

func (c *amqpChannel) IsClosed() bool {
	return c.ch.IsClosed()
}
