package message

import (
	"encoding/base64"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// EventType names one step of a bridged call.
type EventType string

const (
	EventHeaders  EventType = "headers"
	EventResponse EventType = "response"
	EventTrailers EventType = "trailers" // call closed with OK
	EventError    EventType = "error"    // call closed with a non-OK status
)

// Event is emitted by the bridge for every step of a call.
//
//   - headers:  Metadata holds the response headers
//   - response: Payload holds one encoded response message
//   - trailers: Metadata holds the trailers; the call is finished
//   - error:    Error/Code hold the status, Metadata the trailers; the call is finished
type Event struct {
	ID       int64             `json:"id"`
	Type     EventType         `json:"type"`
	Payload  []byte            `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Error    string            `json:"error,omitempty"`
	Code     codes.Code        `json:"code,omitempty"`
}

// Terminal reports whether no further events follow for this call id.
func (e Event) Terminal() bool {
	return e.Type == EventTrailers || e.Type == EventError
}

// Err converts an error event back into a gRPC status error.
func (e Event) Err() error {
	if e.Type != EventError {
		return nil
	}
	return status.Error(e.Code, e.Error)
}

// FlattenMetadata turns gRPC metadata into the flat map carried by events.
// Pseudo headers are dropped, repeated values are joined with ",", and binary
// ("-bin") values are base64 encoded.
func FlattenMetadata(md metadata.MD) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for key, values := range md {
		if strings.HasPrefix(key, ":") {
			continue
		}
		if strings.HasSuffix(key, "-bin") {
			encoded := make([]string, len(values))
			for i, v := range values {
				encoded[i] = base64.StdEncoding.EncodeToString([]byte(v))
			}
			values = encoded
		}
		out[key] = strings.Join(values, ",")
	}
	return out
}

// ExpandMetadata is the inverse of FlattenMetadata for outgoing headers.
func ExpandMetadata(m map[string]string) metadata.MD {
	if len(m) == 0 {
		return nil
	}
	md := metadata.MD{}
	for key, value := range m {
		key = strings.ToLower(key)
		if strings.HasSuffix(key, "-bin") {
			if raw, err := base64.StdEncoding.DecodeString(value); err == nil {
				value = string(raw)
			}
		}
		md.Append(key, value)
	}
	return md
}
