package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayq/relayq-go/contracts"
	"github.com/relayq/relayq-go/messaging"
)

// Requester is the dispatch surface the tracing wrapper decorates.
// Both *relayq.Client and *messaging.Dispatcher satisfy it.
type Requester interface {
	Publish(ctx context.Context, packet contracts.RequestPacket, handler messaging.ResponseHandler) (func(), error)
	DispatchEvent(ctx context.Context, packet contracts.RequestPacket) error
}

type options struct {
	tracer trace.Tracer
}

// Option configures the tracing wrappers.
type Option func(*options)

// WithTracer replaces the default tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

func newOptions(opts []Option) options {
	o := options{
		tracer: otel.Tracer("github.com/relayq/relayq-go"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Otel wraps a Requester so every publish and event dispatch runs
// inside a producer span.
func Otel(next Requester, opts ...Option) Requester {
	return &otelRequester{next: next, opts: newOptions(opts)}
}

type otelRequester struct {
	next Requester
	opts options
}

func (r *otelRequester) Publish(ctx context.Context, packet contracts.RequestPacket, handler messaging.ResponseHandler) (func(), error) {
	ctx, span := r.opts.tracer.Start(ctx, "relayq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", packet.Pattern),
			attribute.String("messaging.operation", "publish"),
		),
	)
	defer span.End()

	dispose, err := r.next.Publish(ctx, packet, handler)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return dispose, err
}

func (r *otelRequester) DispatchEvent(ctx context.Context, packet contracts.RequestPacket) error {
	ctx, span := r.opts.tracer.Start(ctx, "relayq.dispatch_event",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", packet.Pattern),
			attribute.String("messaging.operation", "publish"),
		),
	)
	defer span.End()

	err := r.next.DispatchEvent(ctx, packet)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// OtelResponseHandler wraps a response handler so every delivery runs
// inside a consumer span. Application-level errors from the responder
// are recorded on the span.
func OtelResponseHandler(pattern string, h messaging.ResponseHandler, opts ...Option) messaging.ResponseHandler {
	o := newOptions(opts)

	return func(resp messaging.Response) {
		_, span := o.tracer.Start(context.Background(), "relayq.response",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "rabbitmq"),
				attribute.String("messaging.destination", pattern),
				attribute.String("messaging.operation", "process"),
				attribute.Bool("relayq.final", resp.Final),
			),
		)
		defer span.End()

		if resp.Err != nil {
			span.RecordError(resp.Err)
			span.SetStatus(codes.Error, resp.Err.Error())
		}
		h(resp)
	}
}
