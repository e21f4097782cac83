package server

import (
	"context"
	"time"

	"grpcbridge/message"

	"google.golang.org/grpc/status"
)

// Echo answers SendExampleMessage with the request message and streams it
// back Repeat times (3 when zero) from GetExampleMessages. Delay is waited
// before every response; a cancelled call stops waiting.
type Echo struct {
	Repeat int
	Delay  time.Duration
}

func (e *Echo) SendExampleMessage(ctx context.Context, req *message.ExampleRequest) (*message.ExampleResponse, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return &message.ExampleResponse{Message: req.Message}, nil
}

func (e *Echo) GetExampleMessages(ctx context.Context, req *message.ExampleRequest, send func(*message.ExampleResponse) error) error {
	n := e.Repeat
	if n <= 0 {
		n = 3
	}
	for i := 0; i < n; i++ {
		if err := e.wait(ctx); err != nil {
			return err
		}
		if err := send(&message.ExampleResponse{Message: req.Message}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Echo) wait(ctx context.Context) error {
	if e.Delay <= 0 {
		if err := ctx.Err(); err != nil {
			return status.FromContextError(err).Err()
		}
		return nil
	}
	timer := time.NewTimer(e.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
}
