package server

import (
	"context"

	"grpcbridge/codec"
	"grpcbridge/message"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type (
	unaryFunc  func(ctx context.Context, payload []byte) ([]byte, error)
	streamFunc func(ctx context.Context, payload []byte, send func([]byte) error) error
)

// service is the set of handlers registered under one gRPC service name.
// Handlers work on encoded messages so that the server middleware chain sees
// the same message.Request the client side does.
type service struct {
	name    string
	unary   map[string]unaryFunc  // full method → handler
	streams map[string]streamFunc // full method → handler
}

func newService(name string) *service {
	return &service{
		name:    name,
		unary:   make(map[string]unaryFunc),
		streams: make(map[string]streamFunc),
	}
}

func (s *service) fullMethod(method string) string {
	return "/" + s.name + "/" + method
}

// desc builds the grpc.ServiceDesc grpc-go needs to route calls to s.
func (s *service) desc(svr *Server) *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: s.name,
		HandlerType: (*any)(nil),
	}
	for full := range s.unary {
		full := full
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: full[len(s.name)+2:],
			Handler: func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				var in []byte
				if err := dec(&in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return svr.handleUnary(ctx, full, in)
				}
				info := &grpc.UnaryServerInfo{FullMethod: full}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return svr.handleUnary(ctx, full, req.([]byte))
				})
			},
		})
	}
	for full, fn := range s.streams {
		fn := fn
		desc.Streams = append(desc.Streams, grpc.StreamDesc{
			StreamName:    full[len(s.name)+2:],
			ServerStreams: true,
			Handler: func(_ any, stream grpc.ServerStream) error {
				var in []byte
				if err := stream.RecvMsg(&in); err != nil {
					return err
				}
				return fn(stream.Context(), in, func(out []byte) error {
					return stream.SendMsg(out)
				})
			},
		})
	}
	return desc
}

// ExamplesServer is implemented by anything serving example.Examples.
type ExamplesServer interface {
	SendExampleMessage(ctx context.Context, req *message.ExampleRequest) (*message.ExampleResponse, error)
	GetExampleMessages(ctx context.Context, req *message.ExampleRequest, send func(*message.ExampleResponse) error) error
}

func examplesService(impl ExamplesServer) *service {
	pc := &codec.ProtoCodec{}
	svc := newService(message.ExamplesService)

	svc.unary[message.SendExampleMessageMethod] = func(ctx context.Context, payload []byte) ([]byte, error) {
		req := &message.ExampleRequest{}
		if err := pc.Decode(payload, req); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode ExampleRequest: %v", err)
		}
		resp, err := impl.SendExampleMessage(ctx, req)
		if err != nil {
			return nil, err
		}
		return pc.Encode(resp)
	}
	svc.streams[message.GetExampleMessagesMethod] = func(ctx context.Context, payload []byte, send func([]byte) error) error {
		req := &message.ExampleRequest{}
		if err := pc.Decode(payload, req); err != nil {
			return status.Errorf(codes.InvalidArgument, "decode ExampleRequest: %v", err)
		}
		return impl.GetExampleMessages(ctx, req, func(resp *message.ExampleResponse) error {
			out, err := pc.Encode(resp)
			if err != nil {
				return err
			}
			return send(out)
		})
	}
	return svc
}
