package transport

import (
	"context"
	"io"
	"sync"

	"grpcbridge/message"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// CallRecord captures a single invocation for assertions.
type CallRecord struct {
	Method  string
	Payload []byte
	Header  metadata.MD
}

// MockTransport answers calls from memory and records them.
//
// By default every call is echoed: the reply payload is the request payload,
// which works for any request/response pair with the same wire shape. Fail
// makes every later call fail with err; Block makes calls wait until Release
// or until their context ends.
type MockTransport struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	repeat  int
	header  metadata.MD
	trailer metadata.MD
	calls   []CallRecord
}

// NewMockTransport returns an echoing transport. Server-streaming calls echo
// the request payload repeat times.
func NewMockTransport() *MockTransport {
	return &MockTransport{repeat: 1}
}

// NewFailingTransport returns a transport whose calls fail with a gRPC
// Unavailable status, as they would when the server cannot be reached.
func NewFailingTransport() *MockTransport {
	m := NewMockTransport()
	m.Fail(status.Error(codes.Unavailable, "connection refused"))
	return m
}

func (m *MockTransport) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockTransport) SetMetadata(header, trailer metadata.MD) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.header, m.trailer = header, trailer
}

func (m *MockTransport) SetRepeat(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeat = n
}

// Block holds every later call until Release.
func (m *MockTransport) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
}

func (m *MockTransport) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

func (m *MockTransport) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRecord, len(m.calls))
	copy(out, m.calls)
	return out
}

// begin records req and waits for the gate. It returns the configured
// failure, or the context error when ctx ends while blocked.
func (m *MockTransport) begin(ctx context.Context, req *message.Request) error {
	m.mu.Lock()
	m.calls = append(m.calls, CallRecord{
		Method:  message.NormalizeMethod(req.Method),
		Payload: append([]byte(nil), req.Payload...),
		Header:  req.Header.Copy(),
	})
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MockTransport) Unary(ctx context.Context, req *message.Request) (*message.Reply, error) {
	if err := m.begin(ctx, req); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &message.Reply{
		Payload: append([]byte(nil), req.Payload...),
		Header:  m.header.Copy(),
		Trailer: m.trailer.Copy(),
	}, nil
}

func (m *MockTransport) ServerStream(ctx context.Context, req *message.Request) (Stream, error) {
	if err := m.begin(ctx, req); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([][]byte, m.repeat)
	for i := range msgs {
		msgs[i] = append([]byte(nil), req.Payload...)
	}
	return &memStream{ctx: ctx, msgs: msgs, header: m.header.Copy(), trailer: m.trailer.Copy()}, nil
}

type memStream struct {
	ctx     context.Context
	msgs    [][]byte
	header  metadata.MD
	trailer metadata.MD
}

func (s *memStream) Header() (metadata.MD, error) { return s.header, nil }

func (s *memStream) Recv() ([]byte, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if len(s.msgs) == 0 {
		return nil, io.EOF
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, nil
}

func (s *memStream) Trailer() metadata.MD { return s.trailer }

var (
	_ Transport = (*MockTransport)(nil)
	_ Transport = (*GRPCTransport)(nil)
)
