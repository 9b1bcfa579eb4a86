package server

import (
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// jsonCodec lets the access API exchange plain Go structs as JSON. It replaces connect's
// built-in "json" codec, which only accepts protobuf messages.
type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON message: %w", err)
	}
	return nil
}

// WithJSON configures a connect handler or client to use the struct JSON codec.
func WithJSON() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
