package codec

import (
	"encoding/json"

	"grpcbridge/message"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

// JSONCodec uses protojson for protobuf values so field names follow the
// proto JSON mapping, and encoding/json for plain structs such as bridge
// commands and events.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case message.ProtoMessage:
		return protojson.Marshal(m.ToProto())
	case proto.Message:
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case message.ProtoMessage:
		dm := dynamicpb.NewMessage(m.ProtoDescriptor())
		if err := protojson.Unmarshal(data, dm); err != nil {
			return err
		}
		return m.FromProto(dm)
	case proto.Message:
		return protojson.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
