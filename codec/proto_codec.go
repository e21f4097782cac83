package codec

import (
	"fmt"

	"grpcbridge/message"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ProtoCodec encodes proto.Message values and message.ProtoMessage values
// in protobuf binary format.
type ProtoCodec struct{}

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case message.ProtoMessage:
		return proto.Marshal(m.ToProto())
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func (c *ProtoCodec) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case message.ProtoMessage:
		dm := dynamicpb.NewMessage(m.ProtoDescriptor())
		if err := proto.Unmarshal(data, dm); err != nil {
			return err
		}
		return m.FromProto(dm)
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}
