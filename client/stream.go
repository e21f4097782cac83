package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"grpcbridge/call"
	"grpcbridge/message"

	"google.golang.org/grpc/metadata"
)

// responseBuffer is how many decoded responses may wait for a slow reader.
const responseBuffer = 16

// ServerStreamingCall is the handle of one server-streaming call. Decoded
// responses arrive on Responses; the embedded Pending resolves with the
// trailers once the stream ends, or with the failure that ended it.
type ServerStreamingCall[T any] struct {
	*call.Pending[metadata.MD]
	responses chan T
}

// Responses is closed after the last response. A reader that stops early
// should Cancel the call.
func (c *ServerStreamingCall[T]) Responses() <-chan T {
	return c.responses
}

func ServerStream[T any](ctx context.Context, c *Client, method string, req any, opts ...CallOption) *ServerStreamingCall[*T] {
	o := buildOptions(opts)
	ctx, cancel := o.callContext(ctx)

	sc := &ServerStreamingCall[*T]{responses: make(chan *T, responseBuffer)}
	// exactly one of fn and the continuation below closes responses
	var claimed atomic.Bool
	sc.Pending = call.Start(ctx, o.signal, func(ctx context.Context) (metadata.MD, error) {
		if !claimed.CompareAndSwap(false, true) {
			return nil, ctx.Err()
		}
		defer close(sc.responses)

		payload, err := c.codec.Encode(req)
		if err != nil {
			return nil, fmt.Errorf("client: encode %s request: %w", method, err)
		}
		stream, err := c.transport.ServerStream(ctx, &message.Request{
			Method:  message.NormalizeMethod(method),
			Payload: payload,
			Header:  o.header,
		})
		if err != nil {
			return nil, err
		}
		for {
			b, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return stream.Trailer(), nil
			}
			if err != nil {
				return nil, err
			}
			resp := new(T)
			if err := c.codec.Decode(b, resp); err != nil {
				return nil, fmt.Errorf("client: decode %s response: %w", method, err)
			}
			select {
			case sc.responses <- resp:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	})
	sc.Then(func(metadata.MD, error) {
		cancel()
		if claimed.CompareAndSwap(false, true) {
			close(sc.responses)
		}
	})
	return sc
}
