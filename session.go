package chatloop

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/eapache/queue"
	bigbuff "github.com/joeycumines/go-bigbuff"
	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-chatloop/grpctransport"
	"github.com/joeycumines/go-chatloop/pbx"
	microbatch "github.com/joeycumines/go-microbatch"
	"github.com/joeycumines/logiface"
)

// helloID is the fixed id of the handshake request.
const helloID = "hello"

// Session is one logical connection to a chat server, multiplexing
// concurrent requests from any number of goroutines over a single stream.
// Sessions are created by [Manager.NewSession], and connect lazily, on the
// first operation. All methods are safe for concurrent use.
type Session struct {
	manager  *Manager
	r        *runner
	opts     *sessionOptions
	logger   *logiface.Logger[logiface.Event]
	ids      *idGenerator
	ready    *Signal
	keyPress *catrate.Limiter
	ctx      context.Context
	cancel   context.CancelFunc
	closed   chan struct{}
	target   string
	notifier bigbuff.Notifier
	pumps    sync.WaitGroup
	once     sync.Once
	mu       sync.Mutex
	userID   string
	cause    error
	receipts *microbatch.Batcher[receiptJob]
	state    sessionState
	owned    bool

	// loop-owned
	stream       pbx.Stream
	table        *correlationTable
	pushes       *pushQueue
	outbox       *queue.Queue
	outboxWake   *Signal
	outboxClosed bool
}

func newSession(m *Manager, r *runner, target string, opts *sessionOptions) *Session {
	logger := opts.logger
	if c := logger.Clone(); c != nil {
		logger = c.Str(`target`, target).Logger()
	}
	if opts.transport == nil {
		opts.transport = grpctransport.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		manager: m,
		r:       r,
		opts:    opts,
		logger:  logger,
		ids:     newIDGenerator(),
		ready:   newSignal(r),
		ctx:     ctx,
		cancel:  cancel,
		closed:  make(chan struct{}),
		target:  target,
		table:   newCorrelationTable(logger),
		pushes:  newPushQueue(r),
		outbox:  queue.New(),
	}
	if len(opts.keyPressRates) != 0 {
		s.keyPress = catrate.NewLimiter(opts.keyPressRates)
	}
	return s
}

// Target returns the "host:port" address of the server.
func (s *Session) Target() string {
	return s.target
}

// State returns the current state of the session.
func (s *Session) State() SessionState {
	return s.state.Load()
}

// Done returns a channel that is closed once the session has closed, for any
// reason.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Err returns the reason the session closed, or nil if it has not.
func (s *Session) Err() error {
	select {
	case <-s.closed:
	default:
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Connect performs the handshake, if it has not already happened, blocking
// until the session is ready. Calling it is optional, every operation
// connects implicitly.
func (s *Session) Connect(ctx context.Context) error {
	return s.ensureReady(ctx, `connect`)
}

// Pushes returns a new cursor over the data messages pushed by the server.
func (s *Session) Pushes() *PushCursor {
	return &PushCursor{q: s.pushes}
}

// Messages iterates data messages pushed by the server, see
// [PushCursor.Messages].
func (s *Session) Messages(ctx context.Context) iter.Seq2[*DataMessage, error] {
	return s.Pushes().Messages(ctx)
}

// Observe subscribes target, a channel accepting *pbx.ServerMsg values, to
// every envelope received from the server, including presence and info
// notifications. The returned cancel func MUST be called, unless ctx is
// canceled.
//
// WARNING: Sends to target are blocking, and delay all further receives, so
// callers must always receive promptly.
func (s *Session) Observe(ctx context.Context, target any) context.CancelFunc {
	return s.notifier.SubscribeCancel(ctx, nil, target)
}

// Send writes msg and, if its payload is a request, waits for the correlated
// reply. Notes are sent without waiting, returning a nil reply. A ctrl reply
// with a 4xx or 5xx code is returned along with a *RejectedError or
// *ServerError. The id of a request payload is assigned by Send.
func (s *Session) Send(ctx context.Context, msg *pbx.ClientMsg) (*pbx.ServerMsg, error) {
	if msg == nil || !pbx.IsValidPayload(msg.Payload) {
		return nil, &StateError{Op: `send`, State: s.State(), Cause: ErrMalformedEnvelope}
	}
	_, isRequest := msg.Payload.(pbx.Request)
	return s.send(ctx, `send`, msg.Payload, isRequest)
}

// Close tears down the session, failing in-flight requests, and waking push
// consumers. Buffered data messages remain readable. Safe to call more than
// once.
func (s *Session) Close() error {
	_ = s.closeOwned()
	if s.owned {
		return s.manager.Close()
	}
	return nil
}

func (s *Session) send(ctx context.Context, op string, payload pbx.ClientPayload, expectResponse bool) (*pbx.ServerMsg, error) {
	if !pbx.IsValidPayload(payload) {
		return nil, &StateError{Op: op, State: s.State(), Cause: ErrMalformedEnvelope}
	}
	req, isRequest := payload.(pbx.Request)
	if expectResponse && !isRequest {
		return nil, &StateError{Op: op, State: s.State(), Cause: fmt.Errorf(`%w: %s cannot expect a reply`, ErrMalformedEnvelope, (&pbx.ClientMsg{Payload: payload}).Kind())}
	}

	if err := s.ensureReady(ctx, op); err != nil {
		return nil, err
	}

	msg := &pbx.ClientMsg{Payload: payload}

	if !expectResponse {
		if isRequest {
			req.SetID(s.ids.Next())
		}
		if err := s.r.submit(func() { s.enqueue(msg) }); err != nil {
			return nil, err
		}
		return nil, nil
	}

	p := &pendingRequest{id: s.ids.Next(), signal: newSignal(s.r)}
	req.SetID(p.id)

	// registration and enqueue happen in one loop step, so the entry always
	// exists before the write
	regErr, err := call(s.r, func() error {
		if s.outboxClosed {
			return s.closedError(op)
		}
		if !s.table.register(p) {
			return fmt.Errorf(`chatloop: %s: duplicate request id %q`, op, p.id)
		}
		s.enqueue(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if regErr != nil {
		return nil, regErr
	}

	select {
	case <-p.signal.Done():
	case <-ctx.Done():
		_ = s.r.submit(func() { s.table.remove(p.id) })
		return nil, ctx.Err()
	case <-s.r.done:
		return nil, ErrManagerClosed
	}

	if p.err != nil {
		if errors.Is(p.err, ErrSessionClosed) {
			return nil, &StateError{Op: op, State: s.State(), Cause: p.err}
		}
		return nil, p.err
	}

	if ctrl, ok := p.resp.Payload.(*pbx.ServerCtrl); ok {
		if err := replyError(ctrl); err != nil {
			return p.resp, err
		}
	}

	return p.resp, nil
}

// request sends payload and waits for its reply, returning an error if the
// reply is not of type T.
func request[T pbx.ServerPayload](ctx context.Context, s *Session, op string, payload pbx.Request) (T, error) {
	var zero T
	resp, err := s.send(ctx, op, payload, true)
	if err != nil {
		return zero, err
	}
	v, ok := resp.Payload.(T)
	if !ok {
		return zero, fmt.Errorf(`%w: %s answered with %s`, ErrUnexpectedReply, op, resp.Kind())
	}
	return v, nil
}

func (s *Session) ensureReady(ctx context.Context, op string) error {
	for {
		switch s.state.Load() {
		case StateReady:
			return nil

		case StateUnconnected:
			if s.state.TryTransition(StateUnconnected, StateConnecting) {
				s.logger.Info().Log(`chatloop: connecting`)
				go s.handshake()
			}

		case StateConnecting:
			select {
			case <-s.ready.Done():
			case <-ctx.Done():
				return ctx.Err()
			case <-s.r.done:
				return ErrManagerClosed
			}
			if s.state.Load() == StateConnecting {
				// raised by teardown, which is still in progress
				return s.closedError(op)
			}

		default:
			return s.closedError(op)
		}
	}
}

func (s *Session) handshake() {
	ctx := s.ctx
	if d := s.opts.handshakeTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	stream, err := s.greet(ctx)
	if err != nil && s.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf(`chatloop: handshake timed out: %w`, context.DeadlineExceeded)
	}

	if submitErr := s.r.submit(func() { s.finishHandshake(stream, err) }); submitErr != nil {
		if stream != nil {
			_ = stream.Close()
		}
		s.teardown(submitErr)
	}
}

// greet opens a stream and performs the handshake, giving up once ctx is
// done. The stream itself is bound to the session, not ctx.
func (s *Session) greet(ctx context.Context) (stream pbx.Stream, err error) {
	streamCtx, cancelStream := context.WithCancel(s.ctx)
	defer func() {
		if err != nil {
			cancelStream()
			if stream != nil {
				_ = stream.Close()
			}
			stream = nil
		}
	}()

	stop := context.AfterFunc(ctx, cancelStream)
	defer stop()

	stream, err = s.opts.transport.Open(streamCtx, s.target)
	if err != nil {
		return nil, &ConnectionError{Cause: err}
	}

	// unblocks Recv, for streams not bound to their context
	context.AfterFunc(streamCtx, func() { _ = stream.Close() })

	if err = stream.Send(&pbx.ClientMsg{Payload: &pbx.ClientHi{
		ID:        helloID,
		UserAgent: s.opts.userAgent,
		Ver:       s.opts.protocolVersion,
		DeviceID:  s.opts.deviceID,
		Lang:      s.opts.language,
		Platform:  s.opts.platform,
	}}); err != nil {
		return stream, &ConnectionError{Cause: err}
	}

	reply, err := stream.Recv()
	if err != nil {
		return stream, &ConnectionError{Cause: err}
	}
	ctrl, ok := reply.Payload.(*pbx.ServerCtrl)
	if !ok {
		return stream, fmt.Errorf(`%w: handshake answered with %s`, ErrUnexpectedReply, reply.Kind())
	}
	if err = replyError(ctrl); err != nil {
		return stream, err
	}

	// the reply may race ctx, which has already canceled the stream
	if !stop() {
		return stream, &ConnectionError{Cause: context.Cause(ctx)}
	}

	s.logger.Info().
		Int64(`code`, int64(ctrl.Code)).
		Log(`chatloop: handshake complete`)

	return stream, nil
}

// finishHandshake publishes the outcome of the handshake. Runs on the loop.
func (s *Session) finishHandshake(stream pbx.Stream, err error) {
	defer s.ready.fire()

	if err == nil && s.state.TryTransition(StateConnecting, StateReady) {
		s.stream = stream
		s.pumps.Add(2)
		go s.readPump(stream)
		go s.writePump(stream)
		return
	}

	if stream != nil {
		go stream.Close()
	}
	if err == nil {
		err = ErrSessionClosed
	}
	s.setCause(err)
	if s.state.TryTransition(StateConnecting, StateClosing) {
		s.logger.Err().Err(err).Log(`chatloop: handshake failed`)
	}
	// teardown calls back onto the loop
	go s.teardown(err)
}

func (s *Session) readPump(stream pbx.Stream) {
	defer s.pumps.Done()
	for {
		msg, err := stream.Recv()
		if err != nil {
			s.connectionLost(err)
			return
		}
		if msg == nil || !pbx.IsValidPayload(msg.Payload) {
			continue
		}

		s.logger.Debug().
			Str(`kind`, msg.Kind()).
			Log(`chatloop: received`)

		s.notifier.PublishContext(s.ctx, nil, msg)

		if err := s.r.submit(func() { s.dispatch(msg) }); err != nil {
			return
		}
	}
}

type outboundBatch struct {
	wake   *Signal
	msgs   []*pbx.ClientMsg
	closed bool
}

// takeOutbound drains the outbox, or arms and returns the wake signal if
// empty. Runs on the loop.
func (s *Session) takeOutbound() outboundBatch {
	if s.outboxClosed {
		return outboundBatch{closed: true}
	}
	n := s.outbox.Length()
	if n == 0 {
		if s.outboxWake == nil {
			s.outboxWake = newSignal(s.r)
		}
		return outboundBatch{wake: s.outboxWake}
	}
	msgs := make([]*pbx.ClientMsg, n)
	for i := range msgs {
		msgs[i] = s.outbox.Remove().(*pbx.ClientMsg)
	}
	return outboundBatch{msgs: msgs}
}

func (s *Session) writePump(stream pbx.Stream) {
	defer s.pumps.Done()
	for {
		batch, err := call(s.r, s.takeOutbound)
		if err != nil || batch.closed {
			return
		}
		for _, msg := range batch.msgs {
			s.logger.Debug().
				Str(`kind`, msg.Kind()).
				Log(`chatloop: sending`)
			if err := stream.Send(msg); err != nil {
				s.connectionLost(err)
				return
			}
		}
		if batch.wake != nil {
			select {
			case <-batch.wake.Done():
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// enqueue schedules msg to be written by the writer pump. Runs on the loop.
func (s *Session) enqueue(msg *pbx.ClientMsg) {
	if s.outboxClosed {
		return
	}
	s.outbox.Add(msg)
	if s.outboxWake != nil {
		s.outboxWake.fire()
		s.outboxWake = nil
	}
}

// dispatch routes one received envelope. Runs on the loop.
func (s *Session) dispatch(msg *pbx.ServerMsg) {
	switch p := msg.Payload.(type) {
	case *pbx.ServerCtrl, *pbx.ServerMeta:
		id, _ := msg.ReplyID()
		if id == `` {
			s.logger.Debug().
				Str(`kind`, msg.Kind()).
				Log(`chatloop: unsolicited reply`)
			return
		}
		s.table.resolve(id, msg)
	case *pbx.ServerData:
		s.pushes.push(p)
	}
}

func (s *Session) connectionLost(err error) {
	if s.state.Load() >= StateClosing {
		return
	}
	s.logger.Err().Err(err).Log(`chatloop: connection lost`)
	s.teardown(&ConnectionError{Cause: err})
}

func (s *Session) teardown(cause error) {
	s.once.Do(func() {
		prev := s.state.beginClose()
		s.setCause(cause)
		s.cancel()

		stream, err := call(s.r, func() pbx.Stream {
			s.table.failAll(cause)
			s.pushes.close()
			s.outboxClosed = true
			if s.outboxWake != nil {
				s.outboxWake.fire()
				s.outboxWake = nil
			}
			s.ready.fire()
			stream := s.stream
			s.stream = nil
			return stream
		})
		if err != nil {
			// the loop is gone, so nothing else can touch the signal
			s.ready.fire()
		}
		if stream != nil {
			_ = stream.Close()
		}
		s.closeReceipts()

		s.state.Store(StateClosed)
		close(s.closed)
		s.manager.forget(s)

		s.logger.Info().
			Str(`from`, prev.String()).
			Err(cause).
			Log(`chatloop: session closed`)
	})
}

func (s *Session) setCause(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause == nil {
		s.cause = err
	}
}

func (s *Session) closedError(op string) error {
	s.mu.Lock()
	cause := s.cause
	s.mu.Unlock()
	if cause == nil {
		cause = ErrSessionClosed
	}
	return &StateError{Op: op, State: s.State(), Cause: cause}
}

func (s *Session) setUserID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = id
}

// UserID returns the id of the authenticated user, or a *StateError matching
// ErrNotAuthenticated.
func (s *Session) UserID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == `` {
		return ``, &StateError{Op: `user id`, State: s.State(), Cause: ErrNotAuthenticated}
	}
	return s.userID, nil
}

// replyError maps the status code of a ctrl reply to an error.
func replyError(ctrl *pbx.ServerCtrl) error {
	switch {
	case ctrl.Code >= 400 && ctrl.Code < 500:
		return &RejectedError{Code: ctrl.Code, Text: ctrl.Text, Topic: ctrl.Topic}
	case ctrl.Code >= 500 && ctrl.Code < 600:
		return &ServerError{Code: ctrl.Code, Text: ctrl.Text, Topic: ctrl.Topic}
	default:
		return nil
	}
}

func isSessionClosed(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}
