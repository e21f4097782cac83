package bridge

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"grpcbridge/message"
	"grpcbridge/transport"

	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Transport runs client calls through a Module, the way a host would: it
// picks call ids and matches the module's events back to the waiting caller.
//
//	caller-1 ──UnaryCall(id=1)──┐
//	caller-2 ──UnaryCall(id=2)──┼──→ Module ──→ Events()
//	                            │                  │
//	dispatch: ←── event(id=2) → pending[2] ← event ┘ → caller-2 wakes up
type Transport struct {
	module *Module
	logger *zap.Logger
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*waiter
}

// waiter queues one call's events. The queue is unbounded so dispatch never
// waits on a slow reader.
type waiter struct {
	mu    sync.Mutex
	queue []message.Event
	wake  chan struct{}
}

func newWaiter() *waiter {
	return &waiter{wake: make(chan struct{}, 1)}
}

func (w *waiter) push(ev message.Event) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *waiter) take() (message.Event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return message.Event{}, false
	}
	ev := w.queue[0]
	w.queue[0] = message.Event{}
	w.queue = w.queue[1:]
	return ev, true
}

// await returns the next event, or why none will arrive.
func (w *waiter) await(ctx context.Context, closed <-chan struct{}) (message.Event, error) {
	for {
		if ev, ok := w.take(); ok {
			return ev, nil
		}
		select {
		case <-w.wake:
		case <-ctx.Done():
			return message.Event{}, status.FromContextError(ctx.Err()).Err()
		case <-closed:
			return message.Event{}, ErrModuleClosed
		}
	}
}

// NewTransport takes over module's event channel; nothing else may read it.
func NewTransport(module *Module) *Transport {
	t := &Transport{
		module:  module,
		logger:  module.logger,
		pending: make(map[int64]*waiter),
	}
	go t.dispatch()
	return t
}

// dispatch routes every event to the caller waiting on its id.
func (t *Transport) dispatch() {
	for {
		select {
		case ev := <-t.module.Events():
			t.mu.Lock()
			w, ok := t.pending[ev.ID]
			t.mu.Unlock()
			if !ok {
				t.logger.Debug("event for unknown call", zap.Int64("id", ev.ID), zap.String("type", string(ev.Type)))
				continue
			}
			w.push(ev)
		case <-t.module.Done():
			return
		}
	}
}

func (t *Transport) register() (int64, *waiter) {
	id := t.nextID.Add(1)
	w := newWaiter()
	t.mu.Lock()
	t.pending[id] = w
	t.mu.Unlock()
	return id, w
}

func (t *Transport) unregister(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *Transport) Unary(ctx context.Context, req *message.Request) (*message.Reply, error) {
	id, w := t.register()
	defer t.unregister(id)

	if err := t.module.UnaryCall(id, req.Method, req.Payload, message.FlattenMetadata(req.Header)); err != nil {
		return nil, err
	}
	reply := &message.Reply{}
	for {
		ev, err := w.await(ctx, t.module.Done())
		if err != nil {
			if ctx.Err() != nil {
				t.module.CancelCall(id)
			}
			return nil, err
		}
		switch ev.Type {
		case message.EventHeaders:
			reply.Header = message.ExpandMetadata(ev.Metadata)
		case message.EventResponse:
			reply.Payload = ev.Payload
		case message.EventTrailers:
			reply.Trailer = message.ExpandMetadata(ev.Metadata)
			return reply, nil
		case message.EventError:
			return nil, ev.Err()
		}
	}
}

func (t *Transport) ServerStream(ctx context.Context, req *message.Request) (transport.Stream, error) {
	id, w := t.register()
	if err := t.module.ServerStreamingCall(id, req.Method, req.Payload, message.FlattenMetadata(req.Header)); err != nil {
		t.unregister(id)
		return nil, err
	}
	s := &eventStream{t: t, id: id, w: w, ctx: ctx}
	s.stop = context.AfterFunc(ctx, func() { t.module.CancelCall(id) })
	return s, nil
}

// eventStream reads one server-streaming call's events. It is used by a
// single goroutine, like grpc.ClientStream.RecvMsg.
type eventStream struct {
	t    *Transport
	id   int64
	w    *waiter
	ctx  context.Context
	stop func() bool

	peeked  *message.Event
	header  metadata.MD
	trailer metadata.MD
	err     error // terminal result, io.EOF on success
}

func (s *eventStream) next() (message.Event, error) {
	if s.peeked != nil {
		ev := *s.peeked
		s.peeked = nil
		return ev, nil
	}
	// on ctx cancel the error event is still on its way, but the caller
	// should not have to wait for it
	return s.w.await(s.ctx, s.t.module.Done())
}

func (s *eventStream) finish(err error) error {
	s.err = err
	s.stop()
	s.t.unregister(s.id)
	return err
}

func (s *eventStream) Header() (metadata.MD, error) {
	if s.header != nil || s.err != nil {
		return s.header, nil
	}
	ev, err := s.next()
	if err != nil {
		return nil, s.finish(err)
	}
	if ev.Type != message.EventHeaders {
		s.peeked = &ev
		return nil, nil
	}
	s.header = message.ExpandMetadata(ev.Metadata)
	if s.header == nil {
		s.header = metadata.MD{}
	}
	return s.header, nil
}

func (s *eventStream) Recv() ([]byte, error) {
	for s.err == nil {
		ev, err := s.next()
		if err != nil {
			return nil, s.finish(err)
		}
		switch ev.Type {
		case message.EventHeaders:
			s.header = message.ExpandMetadata(ev.Metadata)
		case message.EventResponse:
			return ev.Payload, nil
		case message.EventTrailers:
			s.trailer = message.ExpandMetadata(ev.Metadata)
			return nil, s.finish(io.EOF)
		case message.EventError:
			s.trailer = message.ExpandMetadata(ev.Metadata)
			return nil, s.finish(ev.Err())
		}
	}
	return nil, s.err
}

func (s *eventStream) Trailer() metadata.MD { return s.trailer }

var _ transport.Transport = (*Transport)(nil)
