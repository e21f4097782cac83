package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"grpcbridge/codec"
	"grpcbridge/loadbalance"
	"grpcbridge/message"
	"grpcbridge/middleware"
	"grpcbridge/registry"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

const CompressionGzip = "gzip"

var ErrNoTarget = errors.New("transport: no target and no registry configured")

// KeepAlive mirrors the channel keepalive settings: pings are sent after Time
// without activity, also when no call is in flight, and the connection is
// dropped if no ack arrives within Timeout.
type KeepAlive struct {
	Time    time.Duration
	Timeout time.Duration
}

type Options struct {
	// Target is used when Registry is nil, or when it has no instance for a
	// service. Any grpc-go target string works, e.g. "localhost:50051".
	Target      string
	Insecure    bool
	TLSConfig   *tls.Config // used when Insecure is false; nil means system roots
	Compression string      // "" or "gzip"
	// MaxRecvMsgSize limits the size of a single response; 0 keeps the
	// grpc-go default of 4MiB.
	MaxRecvMsgSize int
	KeepAlive      *KeepAlive

	Registry registry.Registry
	Balancer loadbalance.Balancer

	Middlewares []middleware.Middleware
	DialOptions []grpc.DialOption
	Logger      *zap.Logger
}

// GRPCTransport sends raw request bytes over grpc-go ClientConns.
//
//	Unary ──→ middleware chain ──→ resolve addr ──→ pool.Get(addr) ──→ cc.Invoke
//
// The address is picked per call: the registry lists the instances of the
// method's service and the balancer picks one, keyed by the full method name.
type GRPCTransport struct {
	opts   Options
	logger *zap.Logger
	pool   *connPool
	unary  middleware.HandlerFunc
}

func NewGRPCTransport(opts Options) (*GRPCTransport, error) {
	if opts.Target == "" && opts.Registry == nil {
		return nil, ErrNoTarget
	}
	switch opts.Compression {
	case "", CompressionGzip:
	default:
		return nil, fmt.Errorf("transport: unsupported compression %q", opts.Compression)
	}
	if opts.Registry != nil && opts.Balancer == nil {
		opts.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	t := &GRPCTransport{
		opts:   opts,
		logger: opts.Logger,
	}
	dialOpts := t.dialOptions()
	t.pool = newConnPool(func(addr string) (*grpc.ClientConn, error) {
		t.logger.Debug("creating client conn", zap.String("addr", addr))
		return grpc.NewClient(addr, dialOpts...)
	})
	t.unary = middleware.Chain(opts.Middlewares...)(t.invoke)
	return t, nil
}

func (t *GRPCTransport) dialOptions() []grpc.DialOption {
	var creds credentials.TransportCredentials
	if t.opts.Insecure {
		creds = insecure.NewCredentials()
	} else {
		cfg := t.opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		creds = credentials.NewTLS(cfg)
	}

	callOpts := []grpc.CallOption{grpc.ForceCodec(codec.RawCodec{})}
	if t.opts.Compression == CompressionGzip {
		callOpts = append(callOpts, grpc.UseCompressor(gzip.Name))
	}
	if t.opts.MaxRecvMsgSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(t.opts.MaxRecvMsgSize))
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(callOpts...),
	}
	if ka := t.opts.KeepAlive; ka != nil {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                ka.Time,
			Timeout:             ka.Timeout,
			PermitWithoutStream: true,
		}))
	}
	return append(opts, t.opts.DialOptions...)
}

// resolve picks the address serving method.
func (t *GRPCTransport) resolve(ctx context.Context, method string) (string, error) {
	if t.opts.Registry == nil {
		return t.opts.Target, nil
	}
	instances, err := t.opts.Registry.Discover(ctx, message.ServiceOf(method))
	if errors.Is(err, registry.ErrNoInstances) && t.opts.Target != "" {
		return t.opts.Target, nil
	}
	if err != nil {
		return "", fmt.Errorf("transport: discover %s: %w", method, err)
	}
	instance, err := t.opts.Balancer.Pick(method, instances)
	if err != nil {
		return "", fmt.Errorf("transport: pick %s: %w", method, err)
	}
	return instance.Addr, nil
}

func (t *GRPCTransport) conn(ctx context.Context, method string) (*grpc.ClientConn, error) {
	addr, err := t.resolve(ctx, method)
	if err != nil {
		return nil, err
	}
	return t.pool.Get(addr)
}

func (t *GRPCTransport) Unary(ctx context.Context, req *message.Request) (*message.Reply, error) {
	r := *req
	r.Method = message.NormalizeMethod(req.Method)
	return t.unary(ctx, &r)
}

// invoke is the innermost handler of the middleware chain.
func (t *GRPCTransport) invoke(ctx context.Context, req *message.Request) (*message.Reply, error) {
	cc, err := t.conn(ctx, req.Method)
	if err != nil {
		return nil, err
	}
	if len(req.Header) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, req.Header)
	}
	var (
		out     []byte
		header  metadata.MD
		trailer metadata.MD
	)
	err = cc.Invoke(ctx, req.Method, req.Payload, &out, grpc.Header(&header), grpc.Trailer(&trailer))
	if err != nil {
		return nil, err
	}
	return &message.Reply{Payload: out, Header: header, Trailer: trailer}, nil
}

func (t *GRPCTransport) ServerStream(ctx context.Context, req *message.Request) (Stream, error) {
	desc := &grpc.StreamDesc{StreamName: req.Method, ServerStreams: true}
	cs, err := t.NewStream(ctx, desc, req.Method, req.Header)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(req.Payload); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	// on io.EOF the real status surfaces from Recv
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &clientStream{cs: cs}, nil
}

// NewStream opens a raw stream for method. Messages sent and received on it
// are []byte.
func (t *GRPCTransport) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, header metadata.MD) (grpc.ClientStream, error) {
	method = message.NormalizeMethod(method)
	cc, err := t.conn(ctx, method)
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, header)
	}
	return cc.NewStream(ctx, desc, method)
}

// State reports the connectivity state of the conn to the default target and
// asks an idle conn to connect. Without a default target the state of any
// cached conn is reported, or Idle when there is none.
func (t *GRPCTransport) State(ctx context.Context) (connectivity.State, error) {
	var cc *grpc.ClientConn
	if t.opts.Target != "" {
		var err error
		if cc, err = t.pool.Get(t.opts.Target); err != nil {
			return connectivity.Shutdown, err
		}
	} else {
		t.pool.Each(func(_ string, c *grpc.ClientConn) {
			if cc == nil {
				cc = c
			}
		})
		if cc == nil {
			return connectivity.Idle, nil
		}
	}
	state := cc.GetState()
	if state == connectivity.Idle {
		cc.Connect()
	}
	return state, nil
}

// ResetConnection skips any pending reconnect backoff and then replaces
// every cached conn with a fresh one on next use. Calls in flight on the old
// conns fail with Canceled.
func (t *GRPCTransport) ResetConnection() error {
	t.pool.Each(func(_ string, cc *grpc.ClientConn) {
		cc.ResetConnectBackoff()
	})
	return t.pool.Drain()
}

// EnterIdle releases the network resources held by every cached conn. The
// next call dials again.
func (t *GRPCTransport) EnterIdle() error {
	return t.pool.Drain()
}

func (t *GRPCTransport) Close() error {
	return t.pool.Close()
}

type clientStream struct {
	cs grpc.ClientStream
}

func (s *clientStream) Header() (metadata.MD, error) { return s.cs.Header() }

func (s *clientStream) Recv() ([]byte, error) {
	var out []byte
	if err := s.cs.RecvMsg(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *clientStream) Trailer() metadata.MD { return s.cs.Trailer() }
