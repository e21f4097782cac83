package middleware

import (
	"context"
	"time"

	"grpcbridge/message"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryMiddleware retries calls that failed with Unavailable, waiting
// baseDelay·2^attempt between tries. Cancelled and timed-out calls are never
// retried.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			reply, err := next(ctx, req)
			for i := 0; i < maxRetries && status.Code(err) == codes.Unavailable; i++ {
				logger.Info("retrying call",
					zap.String("method", req.Method),
					zap.Int("attempt", i+1),
					zap.Error(err))

				timer := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, status.FromContextError(ctx.Err()).Err()
				case <-timer.C:
				}
				reply, err = next(ctx, req)
			}
			return reply, err
		}
	}
}
