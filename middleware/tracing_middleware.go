package middleware

import (
	"context"
	"strings"

	"grpcbridge/message"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TracingMiddleware opens a client span per call and injects the trace
// context into the outgoing metadata.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			service := message.ServiceOf(req.Method)
			method := req.Method[strings.LastIndex(req.Method, "/")+1:]

			ctx, span := tracer.Start(ctx, "grpc.client",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					semconv.RPCSystemKey.String("grpc"),
					semconv.RPCServiceKey.String(service),
					semconv.RPCMethodKey.String(method),
				))
			defer span.End()

			req = withHeader(req)
			otel.GetTextMapPropagator().Inject(ctx, metadataCarrier(req.Header))

			reply, err := next(ctx, req)
			span.SetAttributes(attribute.Int("rpc.grpc.status_code", int(status.Code(err))))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(otelcodes.Error, status.Convert(err).Message())
			}
			return reply, err
		}
	}
}

// metadataCarrier adapts gRPC metadata to propagation.TextMapCarrier.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
