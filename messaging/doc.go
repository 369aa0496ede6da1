// Package messaging implements the correlation engine: the dispatcher
// that publishes requests and events, the correlator that routes
// inbound response frames back to waiting callers, header merging, and
// the payload codecs. Many requests may be in flight concurrently,
// multiplexed over the one shared channel; all shared state is guarded
// by mutexes.
package messaging
