// Package client is the typed facade over a transport.Transport.
//
// Every call returns at once with a handle in the Pending state; the
// exchange runs on its own goroutine and the handle resolves exactly once:
//
//	SendExampleMessage ──→ UnaryCall (Pending) ──→ Then / Response / Done
//	        │
//	        └── go: encode → Transport.Unary → decode → Resolve | Reject
//
// Cancelling the signal given with WithSignal, or calling Cancel on the
// handle, resolves it as cancelled and tears the exchange down.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"grpcbridge/call"
	"grpcbridge/codec"
	"grpcbridge/message"
	"grpcbridge/transport"

	"google.golang.org/grpc/metadata"
)

type Client struct {
	transport transport.Transport
	codec     codec.Codec
}

// NewClient encodes messages with the protobuf codec, the format gRPC
// servers expect.
func NewClient(t transport.Transport) *Client {
	return &Client{transport: t, codec: &codec.ProtoCodec{}}
}

type callOptions struct {
	signal  *call.Signal
	timeout time.Duration
	header  metadata.MD
}

type CallOption func(*callOptions)

// WithSignal ties the call to sig.
func WithSignal(sig *call.Signal) CallOption {
	return func(o *callOptions) { o.signal = sig }
}

// WithTimeout bounds the call; it then fails with call.KindDeadlineExceeded.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithHeader adds outgoing metadata key/value pairs.
func WithHeader(kv ...string) CallOption {
	return func(o *callOptions) { o.header = metadata.Join(o.header, metadata.Pairs(kv...)) }
}

func buildOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// callContext applies the timeout; the returned cancel must run once the
// call has resolved.
func (o callOptions) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}

// UnaryCall is the handle of one unary call.
type UnaryCall[T any] struct {
	*call.Pending[T]

	mu      sync.Mutex
	header  metadata.MD
	trailer metadata.MD
}

// Header returns the response headers once the call has succeeded.
func (c *UnaryCall[T]) Header() metadata.MD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header
}

// Trailer returns the response trailers once the call has succeeded.
func (c *UnaryCall[T]) Trailer() metadata.MD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trailer
}

// Unary starts a unary call of method and decodes the reply into a new T.
// Encoding, transport and decoding failures all resolve the handle; Unary
// itself never fails.
func Unary[T any](ctx context.Context, c *Client, method string, req any, opts ...CallOption) *UnaryCall[*T] {
	o := buildOptions(opts)
	ctx, cancel := o.callContext(ctx)

	uc := &UnaryCall[*T]{}
	uc.Pending = call.Start(ctx, o.signal, func(ctx context.Context) (*T, error) {
		payload, err := c.codec.Encode(req)
		if err != nil {
			return nil, fmt.Errorf("client: encode %s request: %w", method, err)
		}
		reply, err := c.transport.Unary(ctx, &message.Request{
			Method:  message.NormalizeMethod(method),
			Payload: payload,
			Header:  o.header,
		})
		if err != nil {
			return nil, err
		}
		resp := new(T)
		if err := c.codec.Decode(reply.Payload, resp); err != nil {
			return nil, fmt.Errorf("client: decode %s response: %w", method, err)
		}
		uc.mu.Lock()
		uc.header, uc.trailer = reply.Header, reply.Trailer
		uc.mu.Unlock()
		return resp, nil
	})
	uc.Then(func(*T, error) { cancel() })
	return uc
}
