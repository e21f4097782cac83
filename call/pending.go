// Package call implements the lifecycle of a single RPC exchange: a handle
// that resolves exactly once, with success or a classified failure, and a
// cancellation signal the caller can fire at any time.
//
//	Pending ──transport completes──→ Succeeded
//	   │
//	   └──transport error / cancel / deadline──→ Failed
//
// Both resolved states are terminal. Whichever transition reaches the handle
// first wins; the other is dropped.
package call

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
)

// State is the lifecycle position of a Pending call.
type State int32

const (
	StatePending State = iota
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Pending is the handle of an in-flight call producing a T.
type Pending[T any] struct {
	mu    sync.Mutex
	state State
	value T
	err   error
	done  chan struct{}
	conts []func(T, error)
	abort func() // tears down the in-flight exchange; may be nil
}

// NewPending returns an unresolved handle. abort, when non-nil, is invoked
// once if the call is cancelled while still pending.
func NewPending[T any](abort func()) *Pending[T] {
	return &Pending[T]{done: make(chan struct{}), abort: abort}
}

// Resolve settles the call successfully. It reports false if the call was
// already resolved.
func (p *Pending[T]) Resolve(v T) bool {
	return p.settle(v, nil)
}

// Reject settles the call with a failure classified by Classify.
func (p *Pending[T]) Reject(err error) bool {
	if err == nil {
		err = &Error{Kind: KindTransport, Code: codes.Unknown, Err: errNilFailure}
	}
	var zero T
	return p.settle(zero, Classify(err))
}

// Cancel resolves a pending call with a KindCancelled failure and aborts the
// underlying exchange. On a resolved call it does nothing.
func (p *Pending[T]) Cancel() bool {
	return p.cancelWith(nil)
}

func (p *Pending[T]) cancelWith(cause error) bool {
	var zero T
	if !p.settle(zero, cancelledError(cause)) {
		return false
	}
	if p.abort != nil {
		p.abort()
	}
	return true
}

func (p *Pending[T]) settle(v T, err error) bool {
	p.mu.Lock()
	if p.state != StatePending {
		p.mu.Unlock()
		return false
	}
	if err != nil {
		p.state = StateFailed
		p.err = err
	} else {
		p.state = StateSucceeded
		p.value = v
	}
	conts := p.conts
	p.conts = nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range conts {
		fn(v, err)
	}
	return true
}

// Then registers fn to observe the resolution. fn runs exactly once: on the
// resolving goroutine, or immediately on the caller's goroutine if the call
// has already resolved.
func (p *Pending[T]) Then(fn func(T, error)) {
	p.mu.Lock()
	if p.state == StatePending {
		p.conts = append(p.conts, fn)
		p.mu.Unlock()
		return
	}
	v, err := p.value, p.err
	p.mu.Unlock()
	fn(v, err)
}

// Done is closed when the call resolves.
func (p *Pending[T]) Done() <-chan struct{} { return p.done }

func (p *Pending[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result reports the outcome without blocking. ok is false while pending.
func (p *Pending[T]) Result() (v T, err error, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePending {
		return v, nil, false
	}
	return p.value, p.err, true
}

// Response waits for the call to resolve. Giving up on ctx does not cancel
// the call itself.
func (p *Pending[T]) Response(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		v, err, _ := p.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, Classify(ctx.Err())
	}
}

// Start runs fn on its own goroutine and returns immediately with a handle
// for its outcome. fn receives a context that is cancelled when sig fires,
// when the handle is cancelled, or when fn returns.
func Start[T any](ctx context.Context, sig *Signal, fn func(ctx context.Context) (T, error)) *Pending[T] {
	ctx, cancel := context.WithCancel(ctx)
	p := NewPending[T](cancel)

	if sig.Cancelled() {
		p.cancelWith(sig.Cause())
		return p
	}

	go func() {
		defer cancel()
		v, err := fn(ctx)
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()

	if sig != nil {
		go func() {
			select {
			case <-sig.Done():
				p.cancelWith(sig.Cause())
			case <-p.Done():
			}
		}()
	}
	return p
}
