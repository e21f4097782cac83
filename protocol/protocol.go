// Package protocol frames the bridge's command, reply and event messages on a
// byte stream such as a pipe or the process's stdio.
//
// Every frame is a fixed 14-byte header followed by the body:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ grb  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// seq pairs a command with its reply. Event frames carry seq 0; the call id
// travels inside the event body.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"grpcbridge/codec"
)

const (
	Magic0     byte = 0x67 // 'g'
	Magic1     byte = 0x72 // 'r'
	Magic2     byte = 0x62 // 'b'
	Version    byte = 0x01
	HeaderSize int  = 14

	// DefaultMaxBodyLen bounds a single frame body.
	DefaultMaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes the frames exchanged with the host process.
type MsgType byte

const (
	MsgTypeCommand   MsgType = 0 // host → bridge
	MsgTypeReply     MsgType = 1 // bridge → host, answers a command with the same seq
	MsgTypeEvent     MsgType = 2 // bridge → host, a message.Event
	MsgTypeHeartbeat MsgType = 3 // either direction, no body
)

var ErrBodyTooLarge = errors.New("protocol: frame body too large")

type Header struct {
	CodecType codec.CodecType
	MsgType   MsgType
	Seq       uint32
	BodyLen   uint32
}

// Encode writes header and body as one frame. BodyLen is taken from body.
// Callers sharing w between goroutines must serialize calls.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = Magic0, Magic1, Magic2
	buf[3] = Version
	buf[4] = byte(h.CodecType)
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads one frame with the default body limit.
func Decode(r io.Reader) (*Header, []byte, error) {
	return DecodeLimit(r, DefaultMaxBodyLen)
}

// DecodeLimit reads one frame and rejects bodies longer than maxBody.
func DecodeLimit(r io.Reader, maxBody uint32) (*Header, []byte, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, nil, err
	}
	if hdr[0] != Magic0 || hdr[1] != Magic1 || hdr[2] != Magic2 {
		return nil, nil, fmt.Errorf("protocol: invalid magic number: %x", hdr[0:3])
	}
	if hdr[3] != Version {
		return nil, nil, fmt.Errorf("protocol: unsupported version: %d", hdr[3])
	}
	if !codec.Valid(hdr[4]) {
		return nil, nil, fmt.Errorf("protocol: unsupported codec type: %d", hdr[4])
	}
	if hdr[5] > byte(MsgTypeHeartbeat) {
		return nil, nil, fmt.Errorf("protocol: unsupported message type: %d", hdr[5])
	}

	h := &Header{
		CodecType: codec.CodecType(hdr[4]),
		MsgType:   MsgType(hdr[5]),
		Seq:       binary.BigEndian.Uint32(hdr[6:10]),
		BodyLen:   binary.BigEndian.Uint32(hdr[10:14]),
	}
	if maxBody > 0 && h.BodyLen > maxBody {
		return nil, nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, h.BodyLen, maxBody)
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
