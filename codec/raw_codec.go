package codec

import "fmt"

// RawCodec is a gRPC encoding.Codec for payloads that are already encoded.
// It reports the name "proto" so the call keeps the application/grpc+proto
// content-subtype and any protobuf server can decode it.
type RawCodec struct{}

func (RawCodec) Name() string { return "proto" }

func (RawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}
	return nil, fmt.Errorf("%w: raw codec cannot marshal %T", ErrUnsupportedType, v)
}

func (RawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("%w: raw codec cannot unmarshal into %T", ErrUnsupportedType, v)
	}
	*b = append((*b)[:0], data...)
	return nil
}
