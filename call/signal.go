package call

import "sync"

// Signal is a single-use cancellation flag. The zero value is not usable;
// build one with NewSignal. A nil *Signal never fires.
type Signal struct {
	once  sync.Once
	done  chan struct{}
	cause error
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Cancel fires the signal. Only the first call has an effect.
func (s *Signal) Cancel() { s.CancelCause(nil) }

// CancelCause fires the signal and records cause as the reason reported to
// the calls observing it.
func (s *Signal) CancelCause(cause error) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cause = cause
		close(s.done)
	})
}

// Done is closed once the signal fires.
func (s *Signal) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.done
}

func (s *Signal) Cancelled() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Cause returns the reason given to CancelCause, or nil.
func (s *Signal) Cause() error {
	if !s.Cancelled() {
		return nil
	}
	return s.cause
}
