package call

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies how a call failed.
type Kind int

const (
	// KindTransport covers connection, protocol and server-side failures.
	KindTransport Kind = iota
	// KindCancelled means the caller abandoned the call before it resolved.
	KindCancelled
	// KindDeadlineExceeded means the call ran out of time.
	KindDeadlineExceeded
)

func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "cancelled"
	case KindDeadlineExceeded:
		return "deadline exceeded"
	default:
		return "transport error"
	}
}

var (
	// ErrCancelled matches any *Error of KindCancelled via errors.Is.
	ErrCancelled = errors.New("call cancelled")
	// ErrDeadlineExceeded matches any *Error of KindDeadlineExceeded via errors.Is.
	ErrDeadlineExceeded = errors.New("call deadline exceeded")
)

// Error is the failure value a Pending call resolves with.
type Error struct {
	Kind Kind
	Code codes.Code // gRPC status code reported for the failure
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrCancelled:
		return e.Kind == KindCancelled
	case ErrDeadlineExceeded:
		return e.Kind == KindDeadlineExceeded
	}
	return false
}

// GRPCStatus makes status.Code and status.FromError work on classified errors.
func (e *Error) GRPCStatus() *status.Status {
	if e.Err == nil {
		return status.New(e.Code, e.Kind.String())
	}
	if st, ok := status.FromError(e.Err); ok && st.Code() == e.Code {
		return st
	}
	return status.New(e.Code, e.Err.Error())
}

// Classify maps err onto the call error taxonomy. It returns nil for a nil
// error and leaves an existing *Error untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Code: codes.Canceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindDeadlineExceeded, Code: codes.DeadlineExceeded, Err: err}
	}
	st, ok := status.FromError(err)
	if !ok {
		return &Error{Kind: KindTransport, Code: codes.Unknown, Err: err}
	}
	switch st.Code() {
	case codes.Canceled:
		return &Error{Kind: KindCancelled, Code: codes.Canceled, Err: err}
	case codes.DeadlineExceeded:
		return &Error{Kind: KindDeadlineExceeded, Code: codes.DeadlineExceeded, Err: err}
	}
	return &Error{Kind: KindTransport, Code: st.Code(), Err: err}
}

// KindOf reports the kind of err after classification.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(Classify(err), &ce) {
		return ce.Kind
	}
	return KindTransport
}

func cancelledError(cause error) *Error {
	if cause == nil {
		cause = ErrCancelled
	}
	return &Error{Kind: KindCancelled, Code: codes.Canceled, Err: cause}
}

var errNilFailure = errors.New("call rejected without an error")
