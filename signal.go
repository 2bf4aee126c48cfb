package chatloop

import (
	"context"
	"errors"
	"sync"

	eventloop "github.com/joeycumines/go-eventloop"
)

// runner is the handle sessions hold on the Manager's loop.
type runner struct {
	loop *eventloop.Loop
	// done is closed once the worker goroutine running loop has exited
	done chan struct{}
}

func (r *runner) submit(task func()) error {
	if err := r.loop.Submit(task); err != nil {
		if errors.Is(err, eventloop.ErrLoopTerminated) {
			return ErrManagerClosed
		}
		return err
	}
	return nil
}

// call runs fn on the loop and returns its result. Caller cancellation is not
// observed, so fn must not block.
func call[T any](r *runner, fn func() T) (T, error) {
	ch := make(chan T, 1)
	if err := r.submit(func() { ch <- fn() }); err != nil {
		var zero T
		return zero, err
	}
	select {
	case v := <-ch:
		return v, nil
	case <-r.done:
		select {
		case v := <-ch:
			return v, nil
		default:
			var zero T
			return zero, ErrManagerClosed
		}
	}
}

// Signal is a one-shot event owned by a Manager's loop. It is raised on the
// loop, and may be observed from any goroutine.
type Signal struct {
	r    *runner
	ch   chan struct{}
	once sync.Once
}

func newSignal(r *runner) *Signal {
	return &Signal{r: r, ch: make(chan struct{})}
}

// Raise schedules the signal to be raised on its loop. It may be called from
// any goroutine, any number of times. If the loop has terminated, the signal
// is raised immediately.
func (s *Signal) Raise() {
	if err := s.r.loop.Submit(s.fire); err != nil {
		s.fire()
	}
}

// fire raises the signal. Must be called on the loop, or once the loop has
// terminated.
func (s *Signal) fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel that is closed once the signal is raised.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Raised reports whether the signal has been raised.
func (s *Signal) Raised() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal is raised, or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
