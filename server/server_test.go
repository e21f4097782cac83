package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"grpcbridge/codec"
	"grpcbridge/message"
	"grpcbridge/middleware"
	"grpcbridge/registry"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/dynamicpb"
)

func startServer(t *testing.T, echo *Echo, reg registry.Registry, mws ...middleware.Middleware) (*Server, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	svr := NewServer(nil)
	svr.RegisterExamples(echo)
	for _, mw := range mws {
		svr.Use(mw)
	}
	go svr.Serve(lis, "bufnet", reg)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		cc.Close()
		svr.Shutdown(time.Second)
	})
	return svr, cc
}

// the server speaks plain protobuf to a client that knows nothing about raw codecs
func TestUnaryEchoOverProto(t *testing.T) {
	_, cc := startServer(t, &Echo{}, nil)

	req := (&message.ExampleRequest{Message: "Hello World"}).ToProto()
	resp := dynamicpb.NewMessage(message.ExampleResponseDescriptor())
	err := cc.Invoke(context.Background(), message.SendExampleMessageMethod, req, resp)
	require.NoError(t, err)

	var out message.ExampleResponse
	require.NoError(t, out.FromProto(resp))
	require.Equal(t, "Hello World", out.Message)
}

func TestServerStreamEcho(t *testing.T) {
	_, cc := startServer(t, &Echo{Repeat: 2}, nil)

	desc := &grpc.StreamDesc{ServerStreams: true}
	stream, err := cc.NewStream(context.Background(), desc, message.GetExampleMessagesMethod)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg((&message.ExampleRequest{Message: "hi"}).ToProto()))
	require.NoError(t, stream.CloseSend())

	var got []string
	for {
		resp := dynamicpb.NewMessage(message.ExampleResponseDescriptor())
		err := stream.RecvMsg(resp)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var out message.ExampleResponse
		require.NoError(t, out.FromProto(resp))
		got = append(got, out.Message)
	}
	require.Equal(t, []string{"hi", "hi"}, got)
}

func TestUnknownMethod(t *testing.T) {
	_, cc := startServer(t, &Echo{}, nil)
	req := (&message.ExampleRequest{}).ToProto()
	resp := dynamicpb.NewMessage(message.ExampleResponseDescriptor())
	err := cc.Invoke(context.Background(), "/example.Examples/Missing", req, resp)
	require.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestMiddlewareSeesRequestAndSetsMetadata(t *testing.T) {
	var seen []string
	tag := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			seen = append(seen, req.Method)
			seen = append(seen, req.Header.Get("x-client")...)
			reply, err := next(ctx, req)
			if err == nil {
				reply.Header = metadata.Pairs("x-server", "echo")
			}
			return reply, err
		}
	}
	_, cc := startServer(t, &Echo{}, nil, tag)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-client", "test")
	var header metadata.MD
	req := (&message.ExampleRequest{Message: "m"}).ToProto()
	resp := dynamicpb.NewMessage(message.ExampleResponseDescriptor())
	require.NoError(t, cc.Invoke(ctx, message.SendExampleMessageMethod, req, resp, grpc.Header(&header)))

	require.Equal(t, []string{message.SendExampleMessageMethod, "test"}, seen)
	require.Equal(t, []string{"echo"}, header.Get("x-server"))
}

func TestCancelledCallStopsHandler(t *testing.T) {
	_, cc := startServer(t, &Echo{Delay: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := (&message.ExampleRequest{Message: "slow"}).ToProto()
	resp := dynamicpb.NewMessage(message.ExampleResponseDescriptor())
	err := cc.Invoke(ctx, message.SendExampleMessageMethod, req, resp)
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestRegisterAndShutdownDeregisters(t *testing.T) {
	reg := registry.NewStaticRegistry()
	svr, cc := startServer(t, &Echo{}, reg)

	// a call proves Serve has registered
	req := (&message.ExampleRequest{Message: "x"}).ToProto()
	resp := dynamicpb.NewMessage(message.ExampleResponseDescriptor())
	require.NoError(t, cc.Invoke(context.Background(), message.SendExampleMessageMethod, req, resp))

	instances, err := reg.Discover(context.Background(), message.ExamplesService)
	require.NoError(t, err)
	require.Equal(t, "bufnet", instances[0].Addr)

	require.NoError(t, svr.Shutdown(time.Second))
	_, err = reg.Discover(context.Background(), message.ExamplesService)
	require.ErrorIs(t, err, registry.ErrNoInstances)
}

func TestDecodeFailureIsInvalidArgument(t *testing.T) {
	_, cc := startServer(t, &Echo{}, nil)
	// field 1 claims 5 bytes but carries one
	bad := []byte{0x0a, 0x05, 'a'}
	var out []byte
	err := cc.Invoke(context.Background(), message.SendExampleMessageMethod, bad, &out,
		grpc.ForceCodec(codec.RawCodec{}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
