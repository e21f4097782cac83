// Package bridge exposes gRPC calls to a host that cannot link grpc-go
// itself. The host configures a channel, starts calls under ids it picks, and
// receives everything that happens to a call as message.Event values on a
// single channel:
//
//	host ──UnaryCall(id)──→ Module ──NewStream──→ grpc-go
//	host ←──Events()─────── receive(id) ←─RecvMsg──┘
//
// Payloads are encoded messages; the bridge never looks inside them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"grpcbridge/message"
	"grpcbridge/middleware"
	"grpcbridge/transport"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/status"
)

var (
	ErrChannelNotCreated = errors.New("bridge: channel not created")
	ErrModuleClosed      = errors.New("bridge: module closed")
	// ErrCallExists is returned when an id is reused before its call ended.
	ErrCallExists     = errors.New("bridge: call id already active")
	errCancelledByApp = errors.New("bridge: cancelled by app")
)

// CallKind selects how many messages flow in each direction.
type CallKind int

const (
	KindUnary CallKind = iota
	KindServerStreaming
	KindClientStreaming
)

func (k CallKind) desc(method string) *grpc.StreamDesc {
	return &grpc.StreamDesc{
		StreamName:    method,
		ServerStreams: k == KindServerStreaming,
		ClientStreams: k == KindClientStreaming,
	}
}

// Settings are applied by the next InitChannel.
type Settings struct {
	Host     string
	Insecure bool
	// Compression names the compressor; "" sends uncompressed.
	Compression string
	// ResponseSizeLimit caps a single response message; 0 keeps the default.
	ResponseSizeLimit int
	KeepAlive         KeepAliveSettings
	UILog             bool
}

type KeepAliveSettings struct {
	Enabled bool
	Time    time.Duration
	Timeout time.Duration
}

type activeCall struct {
	id     int64
	kind   CallKind
	stream grpc.ClientStream
	cancel context.CancelCauseFunc
	sendMu sync.Mutex
}

func (c *activeCall) send(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.SendMsg(data)
}

func (c *activeCall) closeSend() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.CloseSend()
}

type Module struct {
	logger      *zap.Logger
	dialOptions []grpc.DialOption
	middlewares []middleware.Middleware

	mu        sync.Mutex
	settings  Settings
	transport *transport.GRPCTransport
	calls     map[int64]*activeCall

	events    chan message.Event
	closed    chan struct{}
	closeOnce sync.Once
}

type Option func(*Module)

// WithDialOptions adds grpc-go dial options to every channel the module
// creates.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(m *Module) { m.dialOptions = append(m.dialOptions, opts...) }
}

// WithMiddlewares wraps the unary invoker of every channel.
func WithMiddlewares(mws ...middleware.Middleware) Option {
	return func(m *Module) { m.middlewares = append(m.middlewares, mws...) }
}

// WithEventBuffer sets how many events may wait for the host.
func WithEventBuffer(n int) Option {
	return func(m *Module) { m.events = make(chan message.Event, n) }
}

func NewModule(logger *zap.Logger, opts ...Option) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Module{
		logger: logger,
		calls:  make(map[int64]*activeCall),
		events: make(chan message.Event, 256),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events delivers every call event in order per call. The module has one
// consumer: either the host loop or a Transport.
func (m *Module) Events() <-chan message.Event { return m.events }

// Done is closed by Close.
func (m *Module) Done() <-chan struct{} { return m.closed }

func (m *Module) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

func (m *Module) update(fn func(*Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.settings)
}

func (m *Module) SetHost(host string) { m.update(func(s *Settings) { s.Host = host }) }

func (m *Module) Host() string { return m.Settings().Host }

func (m *Module) SetInsecure(insecure bool) { m.update(func(s *Settings) { s.Insecure = insecure }) }

func (m *Module) Insecure() bool { return m.Settings().Insecure }

// SetCompression enables the named compressor; disabling clears it.
func (m *Module) SetCompression(enable bool, name string) {
	m.update(func(s *Settings) {
		if !enable {
			name = ""
		}
		s.Compression = name
	})
}

func (m *Module) SetResponseSizeLimit(limit int) {
	m.update(func(s *Settings) { s.ResponseSizeLimit = limit })
}

func (m *Module) SetKeepAlive(enabled bool, t, timeout time.Duration) {
	m.update(func(s *Settings) {
		s.KeepAlive = KeepAliveSettings{Enabled: enabled, Time: t, Timeout: timeout}
	})
}

func (m *Module) SetUILogEnabled(enabled bool) { m.update(func(s *Settings) { s.UILog = enabled }) }

// uiLog reports connection events when the host asked for them.
func (m *Module) uiLog(msg string, fields ...zap.Field) {
	if m.Settings().UILog {
		m.logger.Debug(msg, fields...)
	}
}

// InitChannel replaces the current channel with one built from the current
// settings. Calls on the previous channel are cancelled.
func (m *Module) InitChannel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts := transport.Options{
		Target:         m.settings.Host,
		Insecure:       m.settings.Insecure,
		Compression:    m.settings.Compression,
		MaxRecvMsgSize: m.settings.ResponseSizeLimit,
		Middlewares:    m.middlewares,
		DialOptions:    m.dialOptions,
		Logger:         m.logger,
	}
	if ka := m.settings.KeepAlive; ka.Enabled {
		opts.KeepAlive = &transport.KeepAlive{Time: ka.Time, Timeout: ka.Timeout}
	}
	t, err := transport.NewGRPCTransport(opts)
	if err != nil {
		return err
	}
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.logger.Warn("closing previous channel", zap.Error(err))
		}
	}
	m.transport = t
	m.logger.Info("channel created",
		zap.String("host", opts.Target),
		zap.Bool("insecure", opts.Insecure))
	return nil
}

func (m *Module) channel() (*transport.GRPCTransport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
		return nil, ErrModuleClosed
	default:
	}
	if m.transport == nil {
		return nil, ErrChannelNotCreated
	}
	return m.transport, nil
}

func (m *Module) startCall(id int64, path string, kind CallKind, headers map[string]string) (*activeCall, error) {
	t, err := m.channel()
	if err != nil {
		return nil, err
	}
	if m.active(id) {
		return nil, fmt.Errorf("%w: %d", ErrCallExists, id)
	}
	path = message.NormalizeMethod(path)
	ctx, cancel := context.WithCancelCause(context.Background())
	stream, err := t.NewStream(ctx, kind.desc(path), path, message.ExpandMetadata(headers))
	if err != nil {
		cancel(err)
		return nil, err
	}
	c := &activeCall{id: id, kind: kind, stream: stream, cancel: cancel}
	m.mu.Lock()
	if _, ok := m.calls[id]; ok {
		m.mu.Unlock()
		err := fmt.Errorf("%w: %d", ErrCallExists, id)
		cancel(err)
		return nil, err
	}
	m.calls[id] = c
	m.mu.Unlock()
	go m.receive(c)
	return c, nil
}

func (m *Module) active(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.calls[id]
	return ok
}

// UnaryCall sends data as the single request of path.
func (m *Module) UnaryCall(id int64, path string, data []byte, headers map[string]string) error {
	return m.oneShot(id, path, KindUnary, data, headers)
}

// ServerStreamingCall sends data and emits one response event per message.
func (m *Module) ServerStreamingCall(id int64, path string, data []byte, headers map[string]string) error {
	return m.oneShot(id, path, KindServerStreaming, data, headers)
}

func (m *Module) oneShot(id int64, path string, kind CallKind, data []byte, headers map[string]string) error {
	c, err := m.startCall(id, path, kind, headers)
	if err != nil {
		return err
	}
	// a failed send surfaces as the call's error event
	if err := c.send(data); err == nil {
		_ = c.closeSend()
	}
	return nil
}

// ClientStreamingCall starts the call on the first use of id and sends data
// on every use.
func (m *Module) ClientStreamingCall(id int64, path string, data []byte, headers map[string]string) error {
	m.mu.Lock()
	c, ok := m.calls[id]
	m.mu.Unlock()
	if !ok {
		var err error
		if c, err = m.startCall(id, path, KindClientStreaming, headers); err != nil {
			return err
		}
	}
	if err := c.send(data); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// FinishClientStreaming half-closes the call. It reports whether id was
// active.
func (m *Module) FinishClientStreaming(id int64) bool {
	m.mu.Lock()
	c, ok := m.calls[id]
	m.mu.Unlock()
	if ok {
		_ = c.closeSend()
	}
	return ok
}

// CancelCall cancels the call. It reports whether id was active; the error
// event with code Canceled follows on Events.
func (m *Module) CancelCall(id int64) bool {
	m.mu.Lock()
	c, ok := m.calls[id]
	m.mu.Unlock()
	if ok {
		c.cancel(errCancelledByApp)
	}
	return ok
}

// receive turns one call's stream into events. It owns the call until the
// closing event is sent.
func (m *Module) receive(c *activeCall) {
	defer c.cancel(nil)

	if header, err := c.stream.Header(); err == nil {
		m.emit(message.Event{ID: c.id, Type: message.EventHeaders, Metadata: message.FlattenMetadata(header)})
	}

	var err error
	for {
		var payload []byte
		if err = c.stream.RecvMsg(&payload); err != nil {
			break
		}
		m.emit(message.Event{ID: c.id, Type: message.EventResponse, Payload: payload})
		if c.kind != KindServerStreaming {
			// exactly one response; RecvMsg has already checked for the end of stream
			err = io.EOF
			break
		}
	}

	m.mu.Lock()
	if m.calls[c.id] == c {
		delete(m.calls, c.id)
	}
	m.mu.Unlock()

	trailers := message.FlattenMetadata(c.stream.Trailer())
	if errors.Is(err, io.EOF) {
		m.emit(message.Event{ID: c.id, Type: message.EventTrailers, Metadata: trailers})
		return
	}
	st := status.Convert(err)
	m.emit(message.Event{
		ID:       c.id,
		Type:     message.EventError,
		Error:    st.Message(),
		Code:     st.Code(),
		Metadata: trailers,
	})
}

func (m *Module) emit(ev message.Event) {
	select {
	case m.events <- ev:
	case <-m.closed:
	}
}

// ConnectionState reports the channel's connectivity and asks an idle
// channel to connect. A channel that has shut down is recreated.
func (m *Module) ConnectionState(ctx context.Context) (connectivity.State, error) {
	t, err := m.channel()
	if err != nil {
		return connectivity.Shutdown, err
	}
	state, err := t.State(ctx)
	m.uiLog("connection state", zap.Stringer("state", state))
	if state == connectivity.Shutdown {
		return state, m.ResetConnection("connection state change")
	}
	return state, err
}

// ResetConnection skips the reconnect backoff and rebuilds the channel.
func (m *Module) ResetConnection(reason string) error {
	t, err := m.channel()
	if err != nil {
		return err
	}
	if err := t.ResetConnection(); err != nil {
		m.logger.Warn("reset connection", zap.Error(err))
	}
	m.uiLog("reset connection", zap.String("reason", reason))
	return m.InitChannel()
}

// EnterIdle drops the channel's connections; the next call reconnects.
func (m *Module) EnterIdle() error {
	t, err := m.channel()
	if err != nil {
		return err
	}
	m.uiLog("enter idle")
	return t.EnterIdle()
}

// Close cancels every call and closes the channel. Pending events are
// dropped.
func (m *Module) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })

	m.mu.Lock()
	calls := m.calls
	m.calls = make(map[int64]*activeCall)
	t := m.transport
	m.transport = nil
	m.mu.Unlock()

	for _, c := range calls {
		c.cancel(ErrModuleClosed)
	}
	if t != nil {
		return t.Close()
	}
	return nil
}
