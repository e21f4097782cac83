package middleware

import (
	"context"
	"time"

	"grpcbridge/call"
	"grpcbridge/message"
	"grpcbridge/metrics"
)

func MetricsMiddleware(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			m.InFlight.Inc()
			defer m.InFlight.Dec()

			start := time.Now()
			reply, err := next(ctx, req)
			m.Latency.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
			m.Calls.WithLabelValues(req.Method, outcomeOf(err)).Inc()
			return reply, err
		}
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	switch call.KindOf(err) {
	case call.KindCancelled:
		return metrics.OutcomeCancelled
	case call.KindDeadlineExceeded:
		return metrics.OutcomeDeadline
	}
	return metrics.OutcomeTransport
}
