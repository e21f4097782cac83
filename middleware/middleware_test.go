package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"grpcbridge/message"
	"grpcbridge/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const testMethod = "/example.Examples/SendExampleMessage"

func echoHandler(ctx context.Context, req *message.Request) (*message.Reply, error) {
	return &message.Reply{Payload: req.Payload}, nil
}

// sleeps 200ms unless the context ends first
func slowHandler(ctx context.Context, req *message.Request) (*message.Reply, error) {
	select {
	case <-time.After(200 * time.Millisecond):
		return &message.Reply{Payload: []byte("late")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newRequest() *message.Request {
	return &message.Request{Method: testMethod, Payload: []byte("ok")}
}

func TestChainOrder(t *testing.T) {
	var trace []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
				trace = append(trace, name+".before")
				reply, err := next(ctx, req)
				trace = append(trace, name+".after")
				return reply, err
			}
		}
	}
	handler := Chain(mark("A"), mark("B"))(echoHandler)
	if _, err := handler(context.Background(), newRequest()); err != nil {
		t.Fatal(err)
	}
	want := "A.before B.before B.after A.after"
	if got := strings.Join(trace, " "); got != want {
		t.Fatalf("expect %q, got %q", want, got)
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	reply, err := handler(context.Background(), newRequest())
	if err != nil {
		t.Fatal(err)
	}
	if string(reply.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", reply.Payload)
	}
	if logs.FilterMessage("call completed").Len() != 1 {
		t.Fatalf("expect one completion log, got %v", logs.All())
	}

	failing := LoggingMiddleware(zap.New(core))(func(context.Context, *message.Request) (*message.Reply, error) {
		return nil, status.Error(codes.Unavailable, "connection refused")
	})
	_, _ = failing(context.Background(), newRequest())
	if logs.FilterMessage("call failed").Len() != 1 {
		t.Fatal("expect a failure log")
	}

	cancelled := LoggingMiddleware(zap.New(core))(func(context.Context, *message.Request) (*message.Reply, error) {
		return nil, status.Error(codes.Canceled, "Cancelled by app")
	})
	_, _ = cancelled(context.Background(), newRequest())
	if logs.FilterMessage("call cancelled").Len() != 1 {
		t.Fatal("expect a cancellation log")
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)
	if _, err := handler(context.Background(), newRequest()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)
	_, err := handler(context.Background(), newRequest())
	if status.Code(err) != codes.DeadlineExceeded {
		t.Fatalf("expect DeadlineExceeded, got %v", err)
	}
	if status.Convert(err).Message() != "request timed out" {
		t.Fatalf("unexpected message %q", status.Convert(err).Message())
	}
}

func TestTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handler := TimeOutMiddleware(time.Second)(slowHandler)
	_, err := handler(ctx, newRequest())
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expect Canceled, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2: the third immediate call is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newRequest()); err != nil {
			t.Fatalf("request %d should pass, got %v", i, err)
		}
	}
	_, err := handler(context.Background(), newRequest())
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expect ResourceExhausted, got %v", err)
	}
}

func TestRetry(t *testing.T) {
	var attempts atomic.Int32
	flaky := func(ctx context.Context, req *message.Request) (*message.Reply, error) {
		if attempts.Add(1) < 3 {
			return nil, status.Error(codes.Unavailable, "connection refused")
		}
		return &message.Reply{Payload: []byte("ok")}, nil
	}
	handler := RetryMiddleware(3, time.Millisecond, zap.NewNop())(flaky)
	reply, err := handler(context.Background(), newRequest())
	if err != nil {
		t.Fatal(err)
	}
	if string(reply.Payload) != "ok" || attempts.Load() != 3 {
		t.Fatalf("expect success on attempt 3, got %d", attempts.Load())
	}
}

func TestRetrySkipsOtherCodes(t *testing.T) {
	var attempts atomic.Int32
	handler := RetryMiddleware(3, time.Millisecond, zap.NewNop())(func(context.Context, *message.Request) (*message.Reply, error) {
		attempts.Add(1)
		return nil, status.Error(codes.Canceled, "Cancelled by app")
	})
	_, err := handler(context.Background(), newRequest())
	if status.Code(err) != codes.Canceled || attempts.Load() != 1 {
		t.Fatalf("expect a single attempt, got %d (%v)", attempts.Load(), err)
	}
}

func TestRetryStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := RetryMiddleware(5, time.Hour, zap.NewNop())(func(context.Context, *message.Request) (*message.Reply, error) {
		cancel()
		return nil, status.Error(codes.Unavailable, "down")
	})
	_, err := handler(ctx, newRequest())
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expect Canceled, got %v", err)
	}
}

func TestRequestID(t *testing.T) {
	var seen []string
	handler := RequestIDMiddleware()(func(ctx context.Context, req *message.Request) (*message.Reply, error) {
		seen = append(seen, req.Header.Get(RequestIDHeader)...)
		return &message.Reply{}, nil
	})

	req := newRequest()
	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}
	if len(seen) != 2 || seen[0] == seen[1] || len(seen[0]) != 26 {
		t.Fatalf("expect two distinct ULIDs, got %v", seen)
	}
	if req.Header != nil {
		t.Fatal("caller's request must not be modified")
	}

	seen = nil
	req.Header = metadata.Pairs(RequestIDHeader, "fixed")
	if _, err := handler(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if seen[0] != "fixed" {
		t.Fatalf("expect caller's id to be kept, got %v", seen)
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	handler := MetricsMiddleware(m)(echoHandler)
	if _, err := handler(context.Background(), newRequest()); err != nil {
		t.Fatal(err)
	}
	failing := MetricsMiddleware(m)(func(context.Context, *message.Request) (*message.Reply, error) {
		return nil, context.Canceled
	})
	_, _ = failing(context.Background(), newRequest())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{`outcome="ok"`, `outcome="cancelled"`, "grpcbridge_client_calls_in_flight 0"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expect %s in exposition", want)
		}
	}
	if got := outcomeOf(errors.New("boom")); got != metrics.OutcomeTransport {
		t.Fatalf("expect transport outcome, got %q", got)
	}
	if got := outcomeOf(context.DeadlineExceeded); got != metrics.OutcomeDeadline {
		t.Fatalf("expect deadline outcome, got %q", got)
	}
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var traceparent []string
	handler := TracingMiddleware(provider.Tracer("test"))(func(ctx context.Context, req *message.Request) (*message.Reply, error) {
		traceparent = req.Header.Get("traceparent")
		return nil, status.Error(codes.Unavailable, "down")
	})
	if _, err := handler(context.Background(), newRequest()); err == nil {
		t.Fatal("expect error")
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expect 1 span, got %d", len(spans))
	}
	if len(traceparent) != 1 {
		t.Fatal("expect traceparent header to be injected")
	}
	var service string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "rpc.service" {
			service = kv.Value.AsString()
		}
	}
	if service != message.ExamplesService {
		t.Fatalf("expect rpc.service %q, got %q", message.ExamplesService, service)
	}
}
