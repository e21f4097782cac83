package call

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
		code codes.Code
	}{
		{"context cancel", context.Canceled, KindCancelled, codes.Canceled},
		{"wrapped deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), KindDeadlineExceeded, codes.DeadlineExceeded},
		{"grpc canceled", status.Error(codes.Canceled, "Cancelled by app"), KindCancelled, codes.Canceled},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "too slow"), KindDeadlineExceeded, codes.DeadlineExceeded},
		{"grpc unavailable", status.Error(codes.Unavailable, "connection refused"), KindTransport, codes.Unavailable},
		{"plain error", errors.New("tls: bad certificate"), KindTransport, codes.Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify(tc.err)
			var ce *Error
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.kind, ce.Kind)
			require.Equal(t, tc.code, status.Code(err))
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	require.NoError(t, Classify(nil))
	first := Classify(status.Error(codes.Internal, "boom"))
	require.Same(t, first, Classify(first))
	require.Same(t, first, Classify(fmt.Errorf("outer: %w", first)))
}

func TestKindsAreDistinct(t *testing.T) {
	cancelled := Classify(context.Canceled)
	transport := Classify(status.Error(codes.Unavailable, "reset"))
	require.ErrorIs(t, cancelled, ErrCancelled)
	require.NotErrorIs(t, transport, ErrCancelled)
	require.NotErrorIs(t, cancelled, ErrDeadlineExceeded)
}
