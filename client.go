// Package relayq is a request/response client for RabbitMQ. It turns
// the broker's fire-and-forget publish into a correlated RPC
// abstraction: one managed connection, one shared channel, and any
// number of concurrent outstanding requests matched to their responses
// by correlation id.
package relayq

import (
	"context"
	"log/slog"

	"github.com/relayq/relayq-go/contracts"
	"github.com/relayq/relayq-go/internal/rabbitmq"
	"github.com/relayq/relayq-go/messaging"
)

// Client is the public entry point. Construction is cheap; the
// connection and channel are established lazily on first use, or
// eagerly via Connect.
type Client struct {
	conns      *rabbitmq.ConnectionManager
	channels   *rabbitmq.ChannelManager
	correlator *messaging.Correlator
	dispatcher *messaging.Dispatcher
	logger     *slog.Logger
}

// clientConfig holds client configuration
type clientConfig struct {
	queue          string
	queueOptions   rabbitmq.QueueOptions
	exchange       *rabbitmq.ExchangeSpec
	prefetchCount  int
	globalPrefetch bool
	replyQueue     string
	noAck          bool
	staticHeaders  map[string]interface{}
	codec          messaging.Codec
	logger         *slog.Logger
	dialer         rabbitmq.Dialer
	onDisconnect   func(error)
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithQueue sets the destination queue name. Defaults to "default".
func WithQueue(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.queue = name
	}
}

// WithQueueOptions sets the declaration options for the destination queue.
func WithQueueOptions(options rabbitmq.QueueOptions) ClientOption {
	return func(cfg *clientConfig) {
		cfg.queueOptions = options
	}
}

// WithExchange routes requests and events through an exchange instead
// of sending straight to the queue. The queue is bound to the exchange
// using its routing key during channel setup.
func WithExchange(spec rabbitmq.ExchangeSpec) ClientOption {
	return func(cfg *clientConfig) {
		cfg.exchange = &spec
	}
}

// WithPrefetch bounds in-flight unacknowledged deliveries on the channel.
func WithPrefetch(count int, global bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.prefetchCount = count
		cfg.globalPrefetch = global
	}
}

// WithReplyQueue consumes responses from a named queue instead of
// RabbitMQ's direct reply-to pseudo-queue.
func WithReplyQueue(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.replyQueue = name
	}
}

// WithManualAck disables auto-ack on the reply consumer. Not valid with
// direct reply-to.
func WithManualAck() ClientOption {
	return func(cfg *clientConfig) {
		cfg.noAck = false
	}
}

// WithStaticHeaders sets client-scoped headers merged into every
// outgoing frame at lowest precedence; request headers win on conflict.
func WithStaticHeaders(headers map[string]interface{}) ClientOption {
	return func(cfg *clientConfig) {
		cfg.staticHeaders = headers
	}
}

// WithCodec sets the payload codec. Defaults to JSON.
func WithCodec(codec messaging.Codec) ClientOption {
	return func(cfg *clientConfig) {
		cfg.codec = codec
	}
}

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithDialer replaces the broker dialer. Tests use this to run the
// client against fake connections.
func WithDialer(dialer rabbitmq.Dialer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialer = dialer
	}
}

// WithDisconnectHandler registers a hook invoked when the connection is
// lost, after outstanding requests have been failed. Reconnection
// policy lives here: the next Connect (or publish) performs a fresh
// attempt, so the hook can schedule it with any backoff it wants.
func WithDisconnectHandler(fn func(error)) ClientOption {
	return func(cfg *clientConfig) {
		cfg.onDisconnect = fn
	}
}

// NewClient creates a client for the given broker addresses, tried in
// order on every connect attempt.
func NewClient(urls []string, options ...ClientOption) (*Client, error) {
	if len(urls) == 0 {
		return nil, rabbitmq.ErrNoAddresses
	}

	cfg := &clientConfig{
		queue:  "default",
		noAck:  true,
		codec:  messaging.JSONCodec{},
		logger: slog.Default(),
		dialer: rabbitmq.AmqpDialer(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	topology := rabbitmq.Topology{
		Queue:          cfg.queue,
		QueueOptions:   cfg.queueOptions,
		Exchange:       cfg.exchange,
		PrefetchCount:  cfg.prefetchCount,
		GlobalPrefetch: cfg.globalPrefetch,
		ReplyQueue:     cfg.replyQueue,
		NoAck:          cfg.noAck,
	}

	correlator := messaging.NewCorrelator(cfg.codec,
		messaging.WithCorrelatorLogger(cfg.logger),
	)

	// On connection loss every pending request gets a terminal error
	// before the caller's hook runs, so no callback leaks.
	onDisconnect := cfg.onDisconnect
	conns := rabbitmq.NewConnectionManager(urls,
		rabbitmq.WithDialer(cfg.dialer),
		rabbitmq.WithConnectionLogger(cfg.logger),
		rabbitmq.WithDisconnectHandler(func(err error) {
			correlator.FailAll(err)
			if onDisconnect != nil {
				onDisconnect(err)
			}
		}),
	)

	channels := rabbitmq.NewChannelManager(conns, topology, correlator.HandleDelivery,
		rabbitmq.WithChannelLogger(cfg.logger),
	)

	dispatcher := messaging.NewDispatcher(channels, correlator, topology,
		messaging.WithCodec(cfg.codec),
		messaging.WithStaticHeaders(cfg.staticHeaders),
		messaging.WithDispatcherLogger(cfg.logger),
	)

	return &Client{
		conns:      conns,
		channels:   channels,
		correlator: correlator,
		dispatcher: dispatcher,
		logger:     cfg.logger,
	}, nil
}

// Connect eagerly establishes the connection and the configured
// channel. Calling it while connected is a no-op; publishes connect
// lazily, so calling it at all is optional.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.channels.Channel(ctx)
	return err
}

// Publish sends a correlated request. handler receives every matching
// response frame, with exactly one terminal delivery unless the
// returned dispose function cancels the registration first.
func (c *Client) Publish(ctx context.Context, packet contracts.RequestPacket, handler messaging.ResponseHandler) (func(), error) {
	return c.dispatcher.Publish(ctx, packet, handler)
}

// DispatchEvent sends a fire-and-forget event: no correlation id, no
// response. The error reflects whether the broker accepted the send.
func (c *Client) DispatchEvent(ctx context.Context, packet contracts.RequestPacket) error {
	return c.dispatcher.DispatchEvent(ctx, packet)
}

// Request publishes and blocks until the terminal response, the
// context expires, or the connection fails. Non-terminal frames of a
// streamed response are skipped; use Publish to observe them. An
// application-level error from the responder comes back as a
// *contracts.RemoteError.
func (c *Client) Request(ctx context.Context, pattern string, payload interface{}) (interface{}, error) {
	terminal := make(chan messaging.Response, 1)

	dispose, err := c.Publish(ctx, contracts.RequestPacket{
		Pattern: pattern,
		Data:    payload,
	}, func(resp messaging.Response) {
		if resp.Final {
			terminal <- resp
		}
	})
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-terminal:
		if resp.Err != nil {
			return resp.Payload, resp.Err
		}
		return resp.Payload, nil
	case <-ctx.Done():
		dispose()
		return nil, ctx.Err()
	}
}

// Outstanding returns the number of requests still awaiting a terminal
// response.
func (c *Client) Outstanding() int {
	return c.correlator.Outstanding()
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.conns.IsConnected()
}

// Close releases the channel and the connection, then fails any
// request still awaiting a response so no callback is left hanging.
func (c *Client) Close() error {
	if err := c.channels.Close(); err != nil {
		c.logger.Warn("channel close failed", "error", err)
	}
	err := c.conns.Close()
	c.correlator.FailAll(rabbitmq.ErrConnectionClosed)
	return err
}
