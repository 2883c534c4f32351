package service

import (
	"encoding/json"
)

// jsonCodec replaces connect's protojson codec so the plain structs in
// messages.go can be served. Field names follow the proto3 json mapping of
// proto/shopsnap/v1/service.proto.
type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}
