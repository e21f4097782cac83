package config

import (
	"io"

	"grpcbridge/loadbalance"
	"grpcbridge/metrics"
	"grpcbridge/middleware"
	"grpcbridge/registry"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Middlewares builds the client chain from the middleware section, outermost
// first:
//
//	RequestID → Tracing → Metrics → Logging → RateLimit → Timeout → Retry → invoke
//
// The timeout bounds all retries together. m and tracer may be nil.
func (cfg *Config) Middlewares(logger *zap.Logger, m *metrics.Metrics, tracer trace.Tracer) []middleware.Middleware {
	mc := cfg.Middleware
	mws := []middleware.Middleware{middleware.RequestIDMiddleware()}
	if tracer != nil {
		mws = append(mws, middleware.TracingMiddleware(tracer))
	}
	if m != nil {
		mws = append(mws, middleware.MetricsMiddleware(m))
	}
	mws = append(mws, middleware.LoggingMiddleware(logger))
	if mc.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(mc.RateLimit, mc.Burst))
	}
	if mc.Timeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(mc.Timeout))
	}
	if mc.Retries > 0 {
		mws = append(mws, middleware.RetryMiddleware(mc.Retries, mc.RetryBaseDelay, logger))
	}
	return mws
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenDiscovery connects to etcd when endpoints are configured. Without them it
// returns a nil registry, and calls go to Host.
func (cfg *Config) OpenDiscovery(logger *zap.Logger) (registry.Registry, loadbalance.Balancer, io.Closer, error) {
	if len(cfg.Discovery.Endpoints) == 0 {
		return nil, nil, nopCloser{}, nil
	}
	bal, err := loadbalance.New(cfg.Discovery.Balancer)
	if err != nil {
		return nil, nil, nil, err
	}
	reg, err := registry.NewEtcdRegistry(cfg.Discovery.Endpoints, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return reg, bal, reg, nil
}
