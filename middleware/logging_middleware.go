package middleware

import (
	"context"
	"time"

	"grpcbridge/call"
	"grpcbridge/message"

	"go.uber.org/zap"
	"google.golang.org/grpc/status"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
				zap.Stringer("code", status.Code(err)),
			}
			switch {
			case err == nil:
				logger.Debug("call completed", fields...)
			case call.KindOf(err) == call.KindCancelled:
				logger.Info("call cancelled", fields...)
			default:
				logger.Warn("call failed", append(fields, zap.Error(err))...)
			}
			return reply, err
		}
	}
}
