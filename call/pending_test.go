package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStartReturnsPending(t *testing.T) {
	release := make(chan struct{})
	p := Start(context.Background(), nil, func(ctx context.Context) (string, error) {
		<-release
		return "ok", nil
	})
	require.Equal(t, StatePending, p.State())
	_, _, ok := p.Result()
	require.False(t, ok)

	close(release)
	v, err := p.Response(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, StateSucceeded, p.State())
}

func TestResolvesExactlyOnce(t *testing.T) {
	p := NewPending[int](nil)
	require.True(t, p.Resolve(1))
	require.False(t, p.Resolve(2))
	require.False(t, p.Reject(errors.New("late")))
	require.False(t, p.Cancel())

	v, err, ok := p.Result()
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	require.Equal(t, StateSucceeded, p.State())
}

func TestRejectThenResolveKeepsFailure(t *testing.T) {
	p := NewPending[int](nil)
	require.True(t, p.Reject(status.Error(codes.Unavailable, "connection refused")))
	require.False(t, p.Resolve(7))

	_, err, ok := p.Result()
	require.True(t, ok)
	require.Equal(t, KindTransport, KindOf(err))
	require.Equal(t, codes.Unavailable, status.Code(err))
}

func TestCancelBeforeResolution(t *testing.T) {
	sig := NewSignal()
	var aborted atomic.Bool
	p := Start(context.Background(), sig, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		aborted.Store(true)
		return "", ctx.Err()
	})

	sig.Cancel()
	_, err := p.Response(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, KindCancelled, KindOf(err))
	require.Equal(t, StateFailed, p.State())
	require.Eventually(t, aborted.Load, time.Second, time.Millisecond)
}

func TestCancelAfterResolutionIsNoop(t *testing.T) {
	sig := NewSignal()
	p := Start(context.Background(), sig, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	v, err := p.Response(context.Background())
	require.NoError(t, err)

	sig.Cancel()
	require.False(t, p.Cancel())

	after, afterErr, ok := p.Result()
	require.True(t, ok)
	require.NoError(t, afterErr)
	require.Equal(t, v, after)
	require.Equal(t, StateSucceeded, p.State())
}

func TestAlreadyCancelledSignal(t *testing.T) {
	sig := NewSignal()
	cause := errors.New("user left the screen")
	sig.CancelCause(cause)

	var ran atomic.Bool
	p := Start(context.Background(), sig, func(ctx context.Context) (int, error) {
		ran.Store(true)
		return 1, nil
	})
	_, err, ok := p.Result()
	require.True(t, ok)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, cause)
	require.False(t, ran.Load())
}

func TestDeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := Start(ctx, nil, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	_, err := p.Response(context.Background())
	require.ErrorIs(t, err, ErrDeadlineExceeded)
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestFailureObservedOnceByEveryContinuation(t *testing.T) {
	p := NewPending[string](nil)
	var calls [3]atomic.Int32
	for i := range calls {
		p.Then(func(_ string, err error) {
			require.Equal(t, KindTransport, KindOf(err))
			calls[i].Add(1)
		})
	}
	p.Reject(status.Error(codes.Unavailable, "connection refused"))
	p.Reject(errors.New("again"))

	// attached after resolution: runs immediately
	var late atomic.Int32
	p.Then(func(_ string, err error) {
		require.Error(t, err)
		late.Add(1)
	})

	for i := range calls {
		require.EqualValues(t, 1, calls[i].Load())
	}
	require.EqualValues(t, 1, late.Load())
}

func TestResolutionHappensBeforeContinuation(t *testing.T) {
	p := NewPending[int](nil)
	seen := make(chan State, 1)
	p.Then(func(int, error) {
		select {
		case <-p.Done():
			seen <- p.State()
		default:
			seen <- StatePending
		}
	})
	p.Resolve(3)
	require.Equal(t, StateSucceeded, <-seen)
}

func TestCancelRacesCompletion(t *testing.T) {
	for i := 0; i < 500; i++ {
		sig := NewSignal()
		release := make(chan struct{})
		p := Start(context.Background(), sig, func(ctx context.Context) (int, error) {
			<-release
			return 42, nil
		})

		var terminal atomic.Int32
		p.Then(func(int, error) { terminal.Add(1) })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); close(release) }()
		go func() { defer wg.Done(); sig.Cancel() }()
		wg.Wait()

		select {
		case <-p.Done():
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: call never resolved", i)
		}
		v, err, ok := p.Result()
		require.True(t, ok)
		if err != nil {
			require.Equal(t, KindCancelled, KindOf(err))
		} else {
			require.Equal(t, 42, v)
		}
		require.EqualValues(t, 1, terminal.Load())
	}
}

func TestResponseContextDoesNotCancelCall(t *testing.T) {
	release := make(chan struct{})
	p := Start(context.Background(), nil, func(ctx context.Context) (int, error) {
		<-release
		return 5, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Response(ctx)
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, StatePending, p.State())

	close(release)
	v, err := p.Response(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, v)
}
