package chatloop

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	eventloop "github.com/joeycumines/go-eventloop"
	"golang.org/x/sync/errgroup"
)

// Manager owns the single execution context shared by all of its sessions:
// one event loop, run by one worker goroutine, which is started lazily, on
// the first NewSession or NewSignal call, and stopped by Close or Shutdown.
//
// Multiple managers are independent. A stopped Manager cannot be restarted.
type Manager struct {
	opts     []Option
	r        *runner
	cancel   context.CancelFunc
	sessions map[*Session]struct{}
	mu       sync.Mutex
	closed   bool
}

// NewManager initializes a new Manager. No goroutines are started.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		opts:     opts,
		sessions: make(map[*Session]struct{}),
	}
}

// Dial returns a session to host:port, on a Manager dedicated to it, which
// is stopped when the session is closed.
func Dial(host string, port int, opts ...Option) (*Session, error) {
	m := NewManager()
	s, err := m.NewSession(host, port, opts...)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSession returns a new session to the server at host:port, bound to this
// manager's loop, starting the loop if necessary. No network activity occurs
// until the session's first operation.
func (m *Manager) NewSession(host string, port int, opts ...Option) (*Session, error) {
	if host == `` {
		return nil, &ValidationError{Op: `new session`, Message: `empty host`}
	}
	if port <= 0 || port > 65535 {
		return nil, &ValidationError{Op: `new session`, Message: `port out of range: ` + strconv.Itoa(port)}
	}

	cfg, err := resolveOptions(m.opts, opts)
	if err != nil {
		return nil, &ValidationError{Op: `new session`, Message: err.Error()}
	}

	r, err := m.ensureStarted()
	if err != nil {
		return nil, err
	}

	s := newSession(m, r, net.JoinHostPort(host, strconv.Itoa(port)), cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		s.cancel()
		return nil, ErrManagerClosed
	}
	m.sessions[s] = struct{}{}

	return s, nil
}

// NewSignal returns a new Signal owned by this manager's loop, starting the
// loop if necessary.
func (m *Manager) NewSignal() (*Signal, error) {
	r, err := m.ensureStarted()
	if err != nil {
		return nil, err
	}
	return newSignal(r), nil
}

// Close is equivalent to Shutdown, without a deadline.
func (m *Manager) Close() error {
	return m.Shutdown(context.Background())
}

// Shutdown closes every open session, then stops the loop, draining tasks
// already submitted, and blocks until the worker goroutine has exited, or ctx
// is done. It is a no-op if the loop was never started.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		r := m.r
		m.mu.Unlock()
		if r == nil {
			return nil
		}
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.closed = true
	r, cancel := m.r, m.cancel
	sessions := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		sessions = append(sessions, s)
	}
	clear(m.sessions)
	m.mu.Unlock()

	if r == nil {
		return nil
	}

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(s.closeOwned)
	}
	err := g.Wait()

	if e := r.loop.Shutdown(ctx); e != nil && !errors.Is(e, eventloop.ErrLoopTerminated) && err == nil {
		err = e
	}
	cancel()

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return err
}

func (m *Manager) ensureStarted() (*runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.r != nil {
		return m.r, nil
	}

	loop, err := eventloop.New()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{loop: loop, done: make(chan struct{})}

	logger := resolveLogger(m.opts)
	go func() {
		defer close(r.done)
		err := loop.Run(ctx)
		logger.Debug().
			Err(err).
			Log(`chatloop: loop exited`)
	}()

	m.r, m.cancel = r, cancel

	logger.Info().Log(`chatloop: loop started`)

	return r, nil
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s)
}

// closeOwned closes s without stopping a manager it owns, which is in the
// process of stopping.
func (s *Session) closeOwned() error {
	s.teardown(ErrSessionClosed)
	s.pumps.Wait()
	return nil
}
