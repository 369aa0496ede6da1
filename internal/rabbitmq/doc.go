// Package rabbitmq provides the broker plumbing underneath the client:
// connection lifecycle management with disconnect detection, the single
// shared channel with its topology setup, and the amqp091-backed
// implementation of the transport interfaces. The rest of the module
// depends only on the Connection and Channel interfaces, so tests run
// against in-memory fakes.
package rabbitmq
