package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectionManager owns the broker connection. Connect is idempotent
// while connected and single-flight while a dial is in progress. The
// manager does not retry on its own: after a disconnect the state is
// cleared, the disconnect handler fires, and the next Connect performs
// a fresh attempt. Retry-with-backoff belongs to the caller.
type ConnectionManager struct {
	urls         []string
	dialer       Dialer
	logger       *slog.Logger
	onDisconnect func(error)

	mu      sync.Mutex
	state   State
	conn    Connection
	pending chan struct{} // closed when the in-flight attempt settles
	closed  bool
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithConnectionLogger sets the logger
func WithConnectionLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithDialer replaces the broker dialer. Tests use this to substitute
// fake connections.
func WithDialer(dialer Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialer = dialer
	}
}

// WithDisconnectHandler registers a hook invoked after the connection is
// lost and the state has been cleared. This is the place to schedule a
// reconnect with whatever backoff policy the caller wants.
func WithDisconnectHandler(fn func(error)) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.onDisconnect = fn
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(urls []string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		urls:   urls,
		dialer: AmqpDialer(),
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect returns the current connection, establishing one if absent.
// While already connected it returns immediately without dialing.
// Concurrent callers during an in-flight attempt share that attempt.
func (cm *ConnectionManager) Connect(ctx context.Context) (Connection, error) {
	if len(cm.urls) == 0 {
		return nil, ErrNoAddresses
	}

	cm.mu.Lock()
	for {
		if cm.closed {
			cm.mu.Unlock()
			return nil, ErrManagerClosed
		}

		switch cm.state {
		case StateConnected:
			conn := cm.conn
			cm.mu.Unlock()
			return conn, nil

		case StateConnecting:
			wait := cm.pending
			cm.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			cm.mu.Lock()
			// Re-check: the attempt may have failed.

		case StateDisconnected:
			cm.state = StateConnecting
			cm.pending = make(chan struct{})
			cm.mu.Unlock()

			conn, closeCh, err := cm.dial(ctx)

			cm.mu.Lock()
			close(cm.pending)
			cm.pending = nil
			if err != nil {
				cm.state = StateDisconnected
				cm.mu.Unlock()
				return nil, err
			}
			if cm.closed {
				cm.mu.Unlock()
				conn.Close()
				return nil, ErrManagerClosed
			}
			cm.conn = conn
			cm.state = StateConnected
			cm.mu.Unlock()

			go cm.watch(conn, closeCh)

			cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.urls[0]))
			return conn, nil
		}
	}
}

// dial attempts each configured address in order and returns the first
// connection that both dials and survives the handshake.
func (cm *ConnectionManager) dial(ctx context.Context) (Connection, <-chan error, error) {
	var lastErr error
	for _, url := range cm.urls {
		select {
		case <-ctx.Done():
			return nil, nil, &ConnectionError{
				Op:        "connect",
				URL:       SanitizeURL(url),
				Err:       ctx.Err(),
				Timestamp: time.Now(),
			}
		default:
		}

		conn, err := cm.dialer.Dial(url)
		if err != nil {
			cm.logger.Warn("dial failed", "url", SanitizeURL(url), "error", err)
			lastErr = err
			continue
		}

		closeCh := conn.NotifyClose(make(chan error, 1))

		// A disconnect surfacing before the connect completes fails
		// this attempt rather than the shared connection stream.
		select {
		case err, ok := <-closeCh:
			if !ok || err == nil {
				err = ErrConnectionClosed
			}
			lastErr = err
			continue
		default:
		}

		return conn, closeCh, nil
	}

	return nil, nil, &ConnectionError{
		Op:        "connect",
		URL:       SanitizeURL(cm.urls[0]),
		Err:       lastErr,
		Timestamp: time.Now(),
	}
}

// watch waits for the connection to die and clears the shared state so
// the next Connect dials fresh.
func (cm *ConnectionManager) watch(conn Connection, closeCh <-chan error) {
	err, ok := <-closeCh
	if !ok || err == nil {
		err = ErrConnectionClosed
	}

	cm.mu.Lock()
	if cm.conn != conn {
		// Superseded by a newer connection or closed by us.
		cm.mu.Unlock()
		return
	}
	cm.conn = nil
	cm.state = StateDisconnected
	cm.mu.Unlock()

	cm.logger.Error("connection lost", "error", err)

	if cm.onDisconnect != nil {
		cm.onDisconnect(&ConnectionError{
			Op:        "disconnect",
			Err:       err,
			Timestamp: time.Now(),
		})
	}
}

// State returns the current lifecycle state.
func (cm *ConnectionManager) State() State {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	return cm.State() == StateConnected
}

// Close closes the connection and rejects further Connect calls.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return nil
	}
	cm.closed = true
	conn := cm.conn
	cm.conn = nil
	cm.state = StateDisconnected
	cm.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
