package messaging

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes envelopes onto the wire. JSON is the default;
// msgpack is available for responders that speak it.
type Codec interface {
	ContentType() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONCodec encodes envelopes as JSON.
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) String() string { return "json" }

// MsgpackCodec encodes envelopes as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) ContentType() string { return "application/msgpack" }

func (MsgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (MsgpackCodec) String() string { return "msgpack" }
