// Package middleware wraps a transport's unary invoker with cross-cutting
// behaviour. Chain builds the onion:
//
//	Chain(A, B, C)(invoke) → A(B(C(invoke)))
//	A.before → B.before → C.before → invoke → C.after → B.after → A.after
package middleware

import (
	"context"

	"grpcbridge/message"
)

// HandlerFunc performs one unary exchange.
type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Reply, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// withHeader returns a shallow copy of req whose header can be modified
// without touching the caller's metadata.
func withHeader(req *message.Request) *message.Request {
	r := *req
	r.Header = req.Header.Copy()
	return &r
}
