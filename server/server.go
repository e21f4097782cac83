// Package server serves the example.Examples service over gRPC, with a
// middleware chain, service registration and graceful shutdown.
//
// Request processing pipeline:
//
//	grpc.Server → raw []byte handler → Middleware Chain → businessHandler
//	  → ProtoCodec.Decode → ExamplesServer → ProtoCodec.Encode
//
// The server forces a raw codec, so every handler sees encoded bytes and
// the middleware chain works on the same message.Request as the client side.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"grpcbridge/codec"
	"grpcbridge/message"
	"grpcbridge/middleware"
	"grpcbridge/registry"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	_ "google.golang.org/grpc/encoding/gzip" // accept gzip-compressed calls
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RegisterTTL is the lease TTL, in seconds, of a registry entry. KeepAlive
// renews it while the server runs.
const RegisterTTL = 10

var errTimeout = errors.New("server: timeout waiting for ongoing requests to finish")

type Server struct {
	grpc        *grpc.Server
	logger      *zap.Logger
	services    map[string]*service
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	mu            sync.Mutex
	registry      registry.Registry
	advertiseAddr string // address registered in the registry, routable unlike ":50051"
}

func NewServer(logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append(opts, grpc.ForceServerCodec(codec.RawCodec{}))
	return &Server{
		grpc:     grpc.NewServer(opts...),
		logger:   logger,
		services: make(map[string]*service),
	}
}

// RegisterExamples makes impl serve example.Examples. It must be called
// before Serve.
func (svr *Server) RegisterExamples(impl ExamplesServer) {
	svr.register(examplesService(impl))
}

func (svr *Server) register(svc *service) {
	svr.services[svc.name] = svc
	svr.grpc.RegisterService(svc.desc(svr), nil)
}

// Use registers a middleware around unary handlers. Middlewares are applied
// in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve registers every service under advertiseAddr (when reg is not nil)
// and serves lis until Shutdown.
func (svr *Server) Serve(lis net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	if reg != nil {
		svr.mu.Lock()
		svr.registry = reg
		svr.advertiseAddr = advertiseAddr
		svr.mu.Unlock()
		for name := range svr.services {
			err := reg.Register(context.Background(), name, registry.ServiceInstance{
				Addr:   advertiseAddr,
				Weight: 1,
			}, RegisterTTL)
			if err != nil {
				return err
			}
			svr.logger.Info("service registered",
				zap.String("service", name),
				zap.String("addr", advertiseAddr))
		}
	}

	svr.logger.Info("serving", zap.Stringer("addr", lis.Addr()))
	err := svr.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// handleUnary runs one decoded frame through the middleware chain and sends
// the reply metadata.
func (svr *Server) handleUnary(ctx context.Context, method string, payload []byte) ([]byte, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	reply, err := svr.handler(ctx, &message.Request{
		Method:  method,
		Payload: payload,
		Header:  md,
	})
	if err != nil {
		return nil, err
	}
	if len(reply.Header) > 0 {
		if err := grpc.SetHeader(ctx, reply.Header); err != nil {
			svr.logger.Debug("set header failed", zap.Error(err))
		}
	}
	if len(reply.Trailer) > 0 {
		if err := grpc.SetTrailer(ctx, reply.Trailer); err != nil {
			svr.logger.Debug("set trailer failed", zap.Error(err))
		}
	}
	return reply.Payload, nil
}

// businessHandler dispatches to the registered service. It is wrapped by the
// middleware chain.
func (svr *Server) businessHandler(ctx context.Context, req *message.Request) (*message.Reply, error) {
	svc, ok := svr.services[message.ServiceOf(req.Method)]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown service %s", message.ServiceOf(req.Method))
	}
	fn, ok := svc.unary[req.Method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", req.Method)
	}
	out, err := fn(ctx, req.Payload)
	if err != nil {
		return nil, err
	}
	return &message.Reply{Payload: out}, nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister every service so clients stop routing here
//  2. GracefulStop: refuse new calls, wait for in-flight ones
//  3. Stop hard if they are not done within timeout
func (svr *Server) Shutdown(timeout time.Duration) error {
	var err error
	svr.mu.Lock()
	reg, addr := svr.registry, svr.advertiseAddr
	svr.mu.Unlock()
	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		for name := range svr.services {
			err = multierr.Append(err, reg.Deregister(ctx, name, addr))
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		svr.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-time.After(timeout):
		svr.grpc.Stop()
		return multierr.Append(err, errTimeout)
	}
}
