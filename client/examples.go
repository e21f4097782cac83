package client

import (
	"context"

	"grpcbridge/message"
	"grpcbridge/transport"
)

// ExamplesClient calls the example.Examples service.
type ExamplesClient struct {
	c *Client
}

func NewExamplesClient(t transport.Transport) *ExamplesClient {
	return &ExamplesClient{c: NewClient(t)}
}

func (e *ExamplesClient) SendExampleMessage(ctx context.Context, req *message.ExampleRequest, opts ...CallOption) *UnaryCall[*message.ExampleResponse] {
	return Unary[message.ExampleResponse](ctx, e.c, message.SendExampleMessageMethod, req, opts...)
}

func (e *ExamplesClient) GetExampleMessages(ctx context.Context, req *message.ExampleRequest, opts ...CallOption) *ServerStreamingCall[*message.ExampleResponse] {
	return ServerStream[message.ExampleResponse](ctx, e.c, message.GetExampleMessagesMethod, req, opts...)
}
