package rpc

import (
	jsoniter "github.com/json-iterator/go"
)

// Codec encodes call payloads. Any value the codec can marshal is a valid
// payload; decoded values use the codec's generic representation.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

type jsonCodec struct {
	api jsoniter.API
}

// JSONCodec is the default payload codec. Objects decode to map[string]any
// and numbers to float64.
var JSONCodec Codec = jsonCodec{api: jsoniter.ConfigCompatibleWithStandardLibrary}

func (c jsonCodec) Marshal(v any) ([]byte, error) {
	return c.api.Marshal(v)
}

func (c jsonCodec) Unmarshal(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	err := c.api.Unmarshal(data, &v)
	if err != nil {
		return nil, err
	}
	return v, nil
}
