package middleware

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"

	"grpcbridge/message"

	"github.com/oklog/ulid/v2"
)

const RequestIDHeader = "x-request-id"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

func newRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RequestIDMiddleware tags each call with a ULID in the x-request-id header
// unless the caller already set one.
func RequestIDMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			if len(req.Header.Get(RequestIDHeader)) == 0 {
				req = withHeader(req)
				req.Header.Set(RequestIDHeader, newRequestID())
			}
			return next(ctx, req)
		}
	}
}
