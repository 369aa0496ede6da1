// Package contracts defines the packet and envelope types exchanged
// between the client and responders over the broker.
package contracts
