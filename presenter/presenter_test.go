package presenter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grpcbridge/call"

	"github.com/stretchr/testify/require"
)

func TestUpdatesWaitForDrain(t *testing.T) {
	var rendered []string
	p := New(func(v View) { rendered = append(rendered, v.Text()) })

	p.Post(SetResult("Hello World"))
	require.False(t, p.View().HasResult)
	require.Empty(t, rendered)

	require.Equal(t, 1, p.Drain())
	require.Equal(t, []string{"Result: Hello World"}, rendered)
	require.Equal(t, 0, p.Drain())
}

func TestBindResultSuccess(t *testing.T) {
	p := New(nil)
	pending := call.NewPending[string](nil)
	BindResult(p, pending, func(s string) string { return s })

	pending.Resolve("Hello World")
	p.Drain()
	require.Equal(t, View{Result: "Hello World", HasResult: true}, p.View())
}

func TestBindResultFailureLeavesResultAbsent(t *testing.T) {
	p := New(nil)
	p.Post(SetResult("stale"))
	p.Drain()

	pending := call.NewPending[string](nil)
	BindResult(p, pending, func(s string) string { return s })
	pending.Reject(errors.New("connection refused"))
	p.Drain()

	v := p.View()
	require.False(t, v.HasResult)
	require.Equal(t, call.KindTransport, call.KindOf(v.Err))
	require.Contains(t, v.Text(), "connection refused")
}

func TestRunAppliesPostsFromOtherGoroutines(t *testing.T) {
	got := make(chan View, 16)
	p := New(func(v View) { got <- v })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Post(SetResult("x"))
		}()
	}
	wg.Wait()
	for i := 0; i < 4; i++ {
		select {
		case v := <-got:
			require.Equal(t, "x", v.Result)
		case <-time.After(time.Second):
			t.Fatal("update not applied")
		}
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
