// Package message defines what travels between the client facade, the
// transports and the bridge.
//
// Request and Reply are the envelopes a transport sees: opaque encoded bytes
// plus gRPC metadata. Event is the record the bridge emits for every step of a
// call, keyed by the call id.
package message

import (
	"strings"

	"google.golang.org/grpc/metadata"
)

// Request carries one encoded request message.
type Request struct {
	Method  string      // Full method path, e.g. "/example.Examples/SendExampleMessage"
	Payload []byte      // Encoded request message
	Header  metadata.MD // Outgoing metadata, may be nil
}

// Reply carries one encoded response message and the metadata seen with it.
type Reply struct {
	Payload []byte
	Header  metadata.MD
	Trailer metadata.MD
}

// NormalizeMethod returns path with exactly one leading slash.
func NormalizeMethod(path string) string {
	return "/" + strings.TrimLeft(path, "/")
}

// ServiceOf extracts the fully-qualified service name from a method path:
// "/example.Examples/SendExampleMessage" → "example.Examples".
func ServiceOf(method string) string {
	method = strings.TrimLeft(method, "/")
	if i := strings.LastIndex(method, "/"); i >= 0 {
		return method[:i]
	}
	return method
}
