package contracts

import "fmt"

// RemoteError carries an application-level error embedded in a response
// frame. It is business data from the responder, not a transport
// failure: the request completed, the remote side answered with an
// error value.
type RemoteError struct {
	Value interface{}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %v", e.Value)
}
