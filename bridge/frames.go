package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"grpcbridge/codec"
	"grpcbridge/protocol"

	"go.uber.org/zap"
)

// Command is the body of a command frame. Op names the module method; the
// other fields are its arguments.
type Command struct {
	Op       string            `json:"op"`
	ID       int64             `json:"id,omitempty"`
	Path     string            `json:"path,omitempty"`
	Data     []byte            `json:"data,omitempty"` // base64 in JSON
	Headers  map[string]string `json:"headers,omitempty"`
	Host     string            `json:"host,omitempty"`
	Insecure bool              `json:"insecure,omitempty"`
	Enabled  bool              `json:"enabled,omitempty"`
	Name     string            `json:"name,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Time     int               `json:"time,omitempty"`    // seconds
	Timeout  int               `json:"timeout,omitempty"` // seconds
	Reason   string            `json:"reason,omitempty"`
}

// Result is the body of a reply frame.
type Result struct {
	OK    bool   `json:"ok"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// Command ops.
const (
	OpSetHost               = "setHost"
	OpSetInsecure           = "setInsecure"
	OpSetCompression        = "setCompression"
	OpSetResponseSizeLimit  = "setResponseSizeLimit"
	OpSetKeepAlive          = "setKeepAlive"
	OpSetUILogEnabled       = "setUiLogEnabled"
	OpGetHost               = "getHost"
	OpGetIsInsecure         = "getIsInsecure"
	OpInitChannel           = "initGrpcChannel"
	OpUnaryCall             = "unaryCall"
	OpServerStreamingCall   = "serverStreamingCall"
	OpClientStreamingCall   = "clientStreamingCall"
	OpFinishClientStreaming = "finishClientStreaming"
	OpCancelCall            = "cancelGrpcCall"
	OpConnectionState       = "onConnectionStateChange"
	OpResetConnection       = "resetConnection"
	OpEnterIdle             = "enterIdle"
)

var errUnknownOp = errors.New("bridge: unknown op")

// Execute runs one command against the module.
func (m *Module) Execute(ctx context.Context, cmd *Command) (any, error) {
	switch cmd.Op {
	case OpSetHost:
		m.SetHost(cmd.Host)
	case OpSetInsecure:
		m.SetInsecure(cmd.Insecure)
	case OpSetCompression:
		m.SetCompression(cmd.Enabled, cmd.Name)
	case OpSetResponseSizeLimit:
		m.SetResponseSizeLimit(cmd.Limit)
	case OpSetKeepAlive:
		m.SetKeepAlive(cmd.Enabled, time.Duration(cmd.Time)*time.Second, time.Duration(cmd.Timeout)*time.Second)
	case OpSetUILogEnabled:
		m.SetUILogEnabled(cmd.Enabled)
	case OpGetHost:
		return m.Host(), nil
	case OpGetIsInsecure:
		return m.Insecure(), nil
	case OpInitChannel:
		return nil, m.InitChannel()
	case OpUnaryCall:
		return nil, m.UnaryCall(cmd.ID, cmd.Path, cmd.Data, cmd.Headers)
	case OpServerStreamingCall:
		return nil, m.ServerStreamingCall(cmd.ID, cmd.Path, cmd.Data, cmd.Headers)
	case OpClientStreamingCall:
		return nil, m.ClientStreamingCall(cmd.ID, cmd.Path, cmd.Data, cmd.Headers)
	case OpFinishClientStreaming:
		return m.FinishClientStreaming(cmd.ID), nil
	case OpCancelCall:
		return m.CancelCall(cmd.ID), nil
	case OpConnectionState:
		state, err := m.ConnectionState(ctx)
		return state.String(), err
	case OpResetConnection:
		return nil, m.ResetConnection(cmd.Reason)
	case OpEnterIdle:
		return nil, m.EnterIdle()
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownOp, cmd.Op)
	}
	return nil, nil
}

// frameWriter serializes frame writes: commands are answered from the read
// loop while events are forwarded from another goroutine, and both share w.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
	c  codec.Codec
}

func (fw *frameWriter) write(t protocol.MsgType, seq uint32, v any) error {
	var body []byte
	if v != nil {
		var err error
		if body, err = fw.c.Encode(v); err != nil {
			return err
		}
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return protocol.Encode(fw.w, &protocol.Header{
		CodecType: fw.c.Type(),
		MsgType:   t,
		Seq:       seq,
	}, body)
}

// ServeFrames drives m from command frames read from r and writes reply and
// event frames to w. It returns when r is exhausted, ctx is done or m is
// closed. A clean end of input returns nil. If r is an io.Closer it is
// closed on return, which releases a read blocked on input that stays open.
func ServeFrames(ctx context.Context, m *Module, r io.Reader, w io.Writer) error {
	fw := &frameWriter{w: w, c: codec.GetCodec(codec.CodecTypeJSON)}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c, ok := r.(io.Closer); ok {
		context.AfterFunc(ctx, func() { c.Close() })
	}

	input := make(chan error, 1)
	go func() { input <- serveCommands(ctx, m, fw, r) }()

	for {
		select {
		case ev := <-m.Events():
			if err := fw.write(protocol.MsgTypeEvent, 0, &ev); err != nil {
				return err
			}
		case err := <-input:
			return err
		case <-ctx.Done():
			return nil
		case <-m.Done():
			return nil
		}
	}
}

// serveCommands answers command and heartbeat frames until r ends.
func serveCommands(ctx context.Context, m *Module, fw *frameWriter, r io.Reader) error {
	for {
		header, body, err := protocol.Decode(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			if err := fw.write(protocol.MsgTypeHeartbeat, header.Seq, nil); err != nil {
				return err
			}
			continue
		case protocol.MsgTypeCommand:
		default:
			m.logger.Debug("ignoring frame", zap.Uint8("type", uint8(header.MsgType)))
			continue
		}

		var res Result
		var cmd Command
		if err := codec.GetCodec(header.CodecType).Decode(body, &cmd); err != nil {
			res.Error = err.Error()
		} else if v, err := m.Execute(ctx, &cmd); err != nil {
			res.Error = err.Error()
		} else {
			res.OK, res.Value = true, v
		}
		if err := fw.write(protocol.MsgTypeReply, header.Seq, &res); err != nil {
			return err
		}
	}
}
