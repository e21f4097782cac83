package middleware

import (
	"context"
	"errors"
	"time"

	"grpcbridge/message"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TimeOutMiddleware bounds every call to timeout. The inner handler keeps
// running until it notices its context is done; the caller is released as
// soon as the deadline passes.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	type result struct {
		reply *message.Reply
		err   error
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				reply, err := next(ctx, req)
				done <- result{reply, err}
			}()

			select {
			case r := <-done:
				return r.reply, r.err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, status.Error(codes.DeadlineExceeded, "request timed out")
				}
				return nil, status.FromContextError(ctx.Err()).Err()
			}
		}
	}
}
