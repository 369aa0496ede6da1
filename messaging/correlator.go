package messaging

import (
	"log/slog"
	"sync"

	"github.com/relayq/relayq-go/contracts"
	"github.com/relayq/relayq-go/internal/rabbitmq"
)

// Response is one delivery for an outstanding request. Final marks a
// terminal delivery: no further responses follow and the registration
// is gone. Err carries an application-level error reported by the
// responder; an error delivery is always terminal.
type Response struct {
	Payload interface{}
	Err     error
	Final   bool
}

// ResponseHandler receives response deliveries for one request. It is
// invoked once per matching inbound frame, with at most one terminal
// delivery.
type ResponseHandler func(Response)

// Correlator routes inbound frames back to the caller waiting on the
// matching correlation id. Frames with unknown or missing ids are
// dropped: they may legitimately arrive after the caller disposed the
// request.
type Correlator struct {
	codec  Codec
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]ResponseHandler
}

// CorrelatorOption configures the Correlator
type CorrelatorOption func(*Correlator)

// WithCorrelatorLogger sets the logger
func WithCorrelatorLogger(logger *slog.Logger) CorrelatorOption {
	return func(c *Correlator) {
		c.logger = logger
	}
}

// NewCorrelator creates a new correlator decoding frames with codec.
func NewCorrelator(codec Codec, options ...CorrelatorOption) *Correlator {
	c := &Correlator{
		codec:   codec,
		logger:  slog.Default(),
		entries: make(map[string]ResponseHandler),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Register records a handler for a correlation id and returns its
// dispose function. Disposing removes the registration and stops any
// further delivery; calling it again is a no-op, including after a
// terminal delivery already removed the entry.
func (c *Correlator) Register(correlationID string, handler ResponseHandler) func() {
	c.mu.Lock()
	c.entries[correlationID] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.entries, correlationID)
		c.mu.Unlock()
	}
}

// Outstanding returns the number of registered entries.
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HandleDelivery demultiplexes one inbound frame. An error frame or a
// disposed frame is terminal: the entry is removed before the handler
// runs, so exactly one terminal delivery reaches each caller. Plain
// frames leave the entry registered for further deliveries.
func (c *Correlator) HandleDelivery(d rabbitmq.Delivery) {
	if d.CorrelationID == "" {
		c.logger.Debug("dropping frame without correlation id")
		return
	}

	var env contracts.ReplyEnvelope
	if err := c.codec.Unmarshal(d.Body, &env); err != nil {
		c.logger.Warn("dropping undecodable frame",
			"correlationId", d.CorrelationID,
			"error", err,
		)
		return
	}

	terminal := env.IsDisposed || env.Err != nil

	c.mu.Lock()
	handler, ok := c.entries[d.CorrelationID]
	if ok && terminal {
		delete(c.entries, d.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping frame for unknown correlation id",
			"correlationId", d.CorrelationID,
		)
		return
	}

	resp := Response{
		Payload: env.Response,
		Final:   terminal,
	}
	if env.Err != nil {
		resp.Err = &contracts.RemoteError{Value: env.Err}
	}

	handler(resp)
}

// FailAll delivers a terminal error to every outstanding entry and
// clears the mapping. Called when the connection is lost so no pending
// callback leaks.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]ResponseHandler)
	c.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	c.logger.Warn("failing outstanding requests", "count", len(entries), "error", err)

	for _, handler := range entries {
		handler(Response{Err: err, Final: true})
	}
}
