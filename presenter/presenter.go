// Package presenter holds the state shown to the user. Only the goroutine
// that owns a Presenter touches its View; every other goroutine, typically a
// call continuation, posts an update that the owner applies later:
//
//	continuation ──Post(update)──→ queue ──Drain / Run──→ View ──→ render
package presenter

import (
	"context"
	"sync"

	"grpcbridge/call"
)

// View is what the screen shows.
type View struct {
	Result    string
	HasResult bool
	Err       error // set when the last call failed; Result is then absent
}

// Text renders v as the single line the example screen displays.
func (v View) Text() string {
	if v.Err != nil {
		return "Result: (error: " + v.Err.Error() + ")"
	}
	return "Result: " + v.Result
}

type Update func(*View)

type Presenter struct {
	mu     sync.Mutex
	queue  []Update
	wake   chan struct{}
	view   View
	render func(View)
}

// New returns a presenter that calls render after every applied update.
// render may be nil.
func New(render func(View)) *Presenter {
	if render == nil {
		render = func(View) {}
	}
	return &Presenter{wake: make(chan struct{}, 1), render: render}
}

// Post queues u. It never blocks and is safe from any goroutine.
func (p *Presenter) Post(u Update) {
	p.mu.Lock()
	p.queue = append(p.queue, u)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Drain applies every queued update on the calling goroutine and reports
// how many there were.
func (p *Presenter) Drain() int {
	p.mu.Lock()
	queue := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, u := range queue {
		u(&p.view)
		p.render(p.view)
	}
	return len(queue)
}

// Run drains updates as they arrive until ctx is done.
func (p *Presenter) Run(ctx context.Context) error {
	for {
		select {
		case <-p.wake:
			p.Drain()
		case <-ctx.Done():
			p.Drain()
			return ctx.Err()
		}
	}
}

// View returns the current state. Owner goroutine only.
func (p *Presenter) View() View { return p.view }

// SetResult is the update posted when a call succeeds.
func SetResult(text string) Update {
	return func(v *View) {
		v.Result, v.HasResult, v.Err = text, true, nil
	}
}

// SetError is the update posted when a call fails.
func SetError(err error) Update {
	return func(v *View) {
		v.Result, v.HasResult, v.Err = "", false, err
	}
}

// BindResult posts the outcome of pending to p once it resolves.
func BindResult[T any](p *Presenter, pending *call.Pending[T], text func(T) string) {
	pending.Then(func(v T, err error) {
		if err != nil {
			p.Post(SetError(err))
			return
		}
		p.Post(SetResult(text(v)))
	})
}
