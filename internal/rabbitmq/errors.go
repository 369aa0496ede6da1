package rabbitmq

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Connection errors
	ErrConnectionClosed = errors.New("rabbitmq: connection is closed")
	ErrManagerClosed    = errors.New("rabbitmq: connection manager is closed")
	ErrNoAddresses      = errors.New("rabbitmq: at least one broker address is required")

	// Channel errors
	ErrChannelClosed         = errors.New("rabbitmq: channel is closed")
	ErrChannelManagerClosed  = errors.New("rabbitmq: channel manager is closed")
	ErrChannelCreationFailed = errors.New("rabbitmq: failed to create channel")
)

// ConnectionError represents a connect failure or a mid-flight disconnect.
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("rabbitmq connection error: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ChannelError represents a channel-creation failure.
type ChannelError struct {
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("rabbitmq channel error: %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// TopologyError represents a queue/exchange/binding/prefetch assertion
// failure during channel setup.
type TopologyError struct {
	Component string    // Component type (queue, exchange, binding, prefetch, consumer)
	Name      string    // Component name
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: failed to assert %s '%s': %v",
		e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// PublishError represents a send rejected by the channel or broker.
type PublishError struct {
	Queue      string    // Target queue when publishing via the default exchange
	Exchange   string    // Target exchange when one is configured
	RoutingKey string    // Routing key used
	Err        error     // Underlying error
	Timestamp  time.Time // When the error occurred
}

func (e *PublishError) Error() string {
	if e.Exchange != "" {
		return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s: %v",
			e.Exchange, e.RoutingKey, e.Err)
	}
	return fmt.Sprintf("rabbitmq publish error: failed to send to queue %s: %v", e.Queue, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether an error is worth retrying from the
// caller's reconnect hook. Topology failures are configuration problems
// and repeat identically on every attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrManagerClosed):
		return false
	case errors.Is(err, ErrChannelManagerClosed):
		return false
	}

	var topoErr *TopologyError
	if errors.As(err, &topoErr) {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}

	var chanErr *ChannelError
	if errors.As(err, &chanErr) {
		return true
	}

	return true
}

// SanitizeURL removes credentials from connection URLs before logging.
func SanitizeURL(url string) string {
	if len(url) > 20 {
		return url[:10] + "***" + url[len(url)-10:]
	}
	return "***"
}
