package auction

import (
	"encoding/json"
)

// JSONCodec carries plain Go message structs over connect as application/json.
type JSONCodec struct{}

// Name replaces connect's built-in protobuf JSON codec.
func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
