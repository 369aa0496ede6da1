package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DeliveryHandler receives every inbound frame from the reply consumer.
type DeliveryHandler func(Delivery)

// ChannelManager owns the single broker channel shared by all
// concurrent publishes. The channel is created lazily through the
// ConnectionManager, configured with the Topology, and its reply
// consumer is started before the creation completes. Concurrent
// first-use callers share one creation attempt.
type ChannelManager struct {
	conns    *ConnectionManager
	topology Topology
	handler  DeliveryHandler
	logger   *slog.Logger

	mu      sync.Mutex
	ch      Channel
	pending chan struct{}
	closed  bool
}

// ChannelOption configures the ChannelManager
type ChannelOption func(*ChannelManager)

// WithChannelLogger sets the logger
func WithChannelLogger(logger *slog.Logger) ChannelOption {
	return func(cm *ChannelManager) {
		cm.logger = logger
	}
}

// NewChannelManager creates a new channel manager. handler receives
// every frame arriving on the reply queue.
func NewChannelManager(conns *ConnectionManager, topology Topology, handler DeliveryHandler, options ...ChannelOption) *ChannelManager {
	cm := &ChannelManager{
		conns:    conns,
		topology: topology,
		handler:  handler,
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Channel returns the active channel, creating and configuring one if
// none exists. A channel that died since the last call is discarded and
// replaced.
func (cm *ChannelManager) Channel(ctx context.Context) (Channel, error) {
	cm.mu.Lock()
	for {
		if cm.closed {
			cm.mu.Unlock()
			return nil, ErrChannelManagerClosed
		}

		if cm.ch != nil {
			if !cm.ch.IsClosed() {
				ch := cm.ch
				cm.mu.Unlock()
				return ch, nil
			}
			cm.ch = nil
		}

		if cm.pending != nil {
			wait := cm.pending
			cm.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			cm.mu.Lock()
			continue
		}

		cm.pending = make(chan struct{})
		cm.mu.Unlock()

		ch, err := cm.create(ctx)

		cm.mu.Lock()
		close(cm.pending)
		cm.pending = nil
		if err != nil {
			cm.mu.Unlock()
			return nil, err
		}
		if cm.closed {
			cm.mu.Unlock()
			ch.Close()
			return nil, ErrChannelManagerClosed
		}
		cm.ch = ch
		cm.mu.Unlock()
		return ch, nil
	}
}

// create opens a channel, applies the topology and starts the reply
// consumer. A channel that fails setup is closed and discarded, never
// reused.
func (cm *ChannelManager) create(ctx context.Context) (Channel, error) {
	conn, err := cm.conns.Connect(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "create",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	if err := cm.topology.Apply(ch); err != nil {
		ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(cm.topology.ReplyTo(), cm.topology.NoAck)
	if err != nil {
		ch.Close()
		return nil, &TopologyError{
			Component: "consumer",
			Name:      cm.topology.ReplyTo(),
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	go cm.pump(ch, deliveries)

	cm.logger.Info("channel ready",
		"queue", cm.topology.Queue,
		"replyQueue", cm.topology.ReplyTo(),
		"prefetch", cm.topology.PrefetchCount,
	)

	return ch, nil
}

// pump routes inbound frames to the delivery handler until the channel
// dies, then clears the shared reference so the next use recreates it.
func (cm *ChannelManager) pump(ch Channel, deliveries <-chan Delivery) {
	for d := range deliveries {
		cm.handler(d)
	}

	cm.mu.Lock()
	if cm.ch == ch {
		cm.ch = nil
	}
	cm.mu.Unlock()

	cm.logger.Debug("reply consumer stopped", "queue", cm.topology.ReplyTo())
}

// Close closes the channel and rejects further use.
func (cm *ChannelManager) Close() error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return nil
	}
	cm.closed = true
	ch := cm.ch
	cm.ch = nil
	cm.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		return ch.Close()
	}
	return nil
}
