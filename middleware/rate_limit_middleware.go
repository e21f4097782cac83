package middleware

import (
	"context"

	"grpcbridge/message"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RateLimitMiddleware rejects calls beyond r per second (with the given
// burst) using a token bucket.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			if !limiter.Allow() {
				return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
