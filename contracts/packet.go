package contracts

// RequestPacket is what callers hand to the client. Pattern identifies
// the semantic purpose of the request; Data is the arbitrary payload.
// Headers are merged over the client's static headers, winning on
// conflict.
type RequestPacket struct {
	Pattern string
	Data    interface{}
	Headers map[string]interface{}
}

// Envelope is the serialized body of an outgoing frame. ID carries the
// correlation id for requests and is omitted for fire-and-forget
// events.
type Envelope struct {
	Pattern string      `json:"pattern" msgpack:"pattern"`
	Data    interface{} `json:"data" msgpack:"data"`
	ID      string      `json:"id,omitempty" msgpack:"id,omitempty"`
}

// ReplyEnvelope is the deserialized body of an inbound response frame.
// Err set means the responder reported an application-level error; it
// terminates the request regardless of IsDisposed. IsDisposed marks the
// final frame of a streamed response.
type ReplyEnvelope struct {
	Response   interface{} `json:"response" msgpack:"response"`
	Err        interface{} `json:"err,omitempty" msgpack:"err,omitempty"`
	IsDisposed bool        `json:"isDisposed,omitempty" msgpack:"isDisposed,omitempty"`
}
