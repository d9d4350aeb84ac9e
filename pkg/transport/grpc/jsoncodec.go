package grpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec encodes the plain Go request and response structs of package
// transport.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(b []byte, v interface{}) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
