// Package transport moves encoded requests to a gRPC server and brings the
// encoded replies back. The client facade only sees the Transport interface;
// GRPCTransport talks to the network, MockTransport answers from memory.
package transport

import (
	"context"

	"grpcbridge/message"

	"google.golang.org/grpc/metadata"
)

// Transport performs calls on already-encoded messages.
type Transport interface {
	// Unary sends one request and waits for exactly one reply.
	Unary(ctx context.Context, req *message.Request) (*message.Reply, error)
	// ServerStream sends one request and returns the stream of replies.
	ServerStream(ctx context.Context, req *message.Request) (Stream, error)
}

// Stream is the receiving side of a server-streaming call.
type Stream interface {
	// Header blocks until the response headers arrive.
	Header() (metadata.MD, error)
	// Recv returns the next encoded message, or io.EOF once the server closed
	// the stream with an OK status.
	Recv() ([]byte, error)
	// Trailer is valid after Recv returned a non-nil error.
	Trailer() metadata.MD
}
