package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/relayq/relayq-go/contracts"
	"github.com/relayq/relayq-go/internal/rabbitmq"
)

// ErrNilHandler is returned when Publish is called without a response handler.
var ErrNilHandler = errors.New("messaging: response handler is required")

// ChannelSource yields the shared broker channel, creating it on first
// use. Implemented by rabbitmq.ChannelManager.
type ChannelSource interface {
	Channel(ctx context.Context) (rabbitmq.Channel, error)
}

// Dispatcher publishes requests and events over the shared channel.
// Requests get a correlation id and a registration with the Correlator;
// events are fire-and-forget. Both follow the same routing rule: with
// no exchange configured the frame goes straight to the queue, with an
// exchange configured it is published through the exchange with the
// configured routing key.
type Dispatcher struct {
	channels   ChannelSource
	correlator *Correlator
	topology   rabbitmq.Topology
	codec      Codec
	static     map[string]interface{}
	logger     *slog.Logger
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithCodec sets the payload codec
func WithCodec(codec Codec) DispatcherOption {
	return func(d *Dispatcher) {
		d.codec = codec
	}
}

// WithStaticHeaders sets client-scoped headers merged into every
// outgoing frame at lowest precedence.
func WithStaticHeaders(headers map[string]interface{}) DispatcherOption {
	return func(d *Dispatcher) {
		d.static = headers
	}
}

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(channels ChannelSource, correlator *Correlator, topology rabbitmq.Topology, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		channels:   channels,
		correlator: correlator,
		topology:   topology,
		codec:      JSONCodec{},
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Publish sends a correlated request and registers handler for its
// responses. The returned dispose function cancels the registration;
// it is idempotent and safe to call at any point, including after a
// terminal delivery. On a publish failure no registration is left
// behind and the error is a *rabbitmq.PublishError.
func (d *Dispatcher) Publish(ctx context.Context, packet contracts.RequestPacket, handler ResponseHandler) (func(), error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	ch, err := d.channels.Channel(ctx)
	if err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()

	body, err := d.codec.Marshal(contracts.Envelope{
		Pattern: packet.Pattern,
		Data:    packet.Data,
		ID:      correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	dispose := d.correlator.Register(correlationID, handler)

	msg := rabbitmq.Publishing{
		CorrelationID: correlationID,
		ReplyTo:       d.topology.ReplyTo(),
		ContentType:   d.codec.ContentType(),
		Headers:       rabbitmq.Table(MergeHeaders(d.static, packet.Headers)),
		Body:          body,
	}

	if err := d.send(ctx, ch, msg); err != nil {
		dispose()
		return nil, err
	}

	d.logger.Debug("request published",
		"pattern", packet.Pattern,
		"correlationId", correlationID,
	)

	return dispose, nil
}

// DispatchEvent sends a fire-and-forget event. No correlation id is
// registered and no response is awaited; a send failure propagates to
// the caller.
func (d *Dispatcher) DispatchEvent(ctx context.Context, packet contracts.RequestPacket) error {
	ch, err := d.channels.Channel(ctx)
	if err != nil {
		return err
	}

	body, err := d.codec.Marshal(contracts.Envelope{
		Pattern: packet.Pattern,
		Data:    packet.Data,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := rabbitmq.Publishing{
		ContentType: d.codec.ContentType(),
		Headers:     rabbitmq.Table(MergeHeaders(d.static, packet.Headers)),
		Body:        body,
	}

	if err := d.send(ctx, ch, msg); err != nil {
		return err
	}

	d.logger.Debug("event dispatched", "pattern", packet.Pattern)
	return nil
}

// send applies the routing rule: configured exchange wins over the
// plain queue destination.
func (d *Dispatcher) send(ctx context.Context, ch rabbitmq.Channel, msg rabbitmq.Publishing) error {
	if ex := d.topology.Exchange; ex != nil {
		if err := ch.Publish(ctx, ex.Name, ex.RoutingKey, msg); err != nil {
			return &rabbitmq.PublishError{
				Exchange:   ex.Name,
				RoutingKey: ex.RoutingKey,
				Err:        err,
				Timestamp:  time.Now(),
			}
		}
		return nil
	}

	if err := ch.SendToQueue(ctx, d.topology.Queue, msg); err != nil {
		return &rabbitmq.PublishError{
			Queue:     d.topology.Queue,
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}
