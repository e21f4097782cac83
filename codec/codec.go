// Package codec converts messages to and from bytes.
//
// Two codecs serve the client facade and the bridge wire protocol:
//   - ProtoCodec: protobuf binary, the format gRPC puts on the wire
//   - JSONCodec:  protojson for proto values, encoding/json for everything else
//
// RawCodec is different: it is a gRPC encoding.Codec that moves already
// encoded bytes through a ClientConn untouched.
package codec

import "errors"

type CodecType byte

const (
	CodecTypeJSON  CodecType = 0
	CodecTypeProto CodecType = 1
)

// ErrUnsupportedType is returned when a value has no encoding in a codec.
var ErrUnsupportedType = errors.New("codec: unsupported value type")

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Proto
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &ProtoCodec{}
}

// Valid reports whether b names a known codec.
func Valid(b byte) bool {
	return CodecType(b) == CodecTypeJSON || CodecType(b) == CodecTypeProto
}
