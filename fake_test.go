package chatloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-chatloop/pbx"
	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("fake stream closed")

// fakeTransport hands out preloaded streams, in order.
type fakeTransport struct {
	streams chan *fakeStream
	opens   atomic.Int32
}

func newFakeTransport(streams ...*fakeStream) *fakeTransport {
	x := &fakeTransport{streams: make(chan *fakeStream, len(streams)+1)}
	for _, s := range streams {
		x.streams <- s
	}
	return x
}

func (x *fakeTransport) Open(ctx context.Context, target string) (pbx.Stream, error) {
	x.opens.Add(1)
	select {
	case s := <-x.streams:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fakeStream is the server end of a scripted conversation.
type fakeStream struct {
	sent   chan *pbx.ClientMsg
	recv   chan *pbx.ServerMsg
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		sent:   make(chan *pbx.ClientMsg, 64),
		recv:   make(chan *pbx.ServerMsg, 64),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (x *fakeStream) Send(msg *pbx.ClientMsg) error {
	select {
	case <-x.closed:
		return errFakeClosed
	case x.sent <- msg:
		return nil
	}
}

func (x *fakeStream) Recv() (*pbx.ServerMsg, error) {
	select {
	case msg := <-x.recv:
		return msg, nil
	case err := <-x.errs:
		return nil, err
	case <-x.closed:
		return nil, errFakeClosed
	}
}

func (x *fakeStream) Close() error {
	x.once.Do(func() { close(x.closed) })
	return nil
}

func (x *fakeStream) isClosed() bool {
	select {
	case <-x.closed:
		return true
	default:
		return false
	}
}

// next returns the next envelope written by the client.
func (x *fakeStream) next(t testing.TB) *pbx.ClientMsg {
	t.Helper()
	select {
	case msg := <-x.sent:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the client")
		return nil
	}
}

// nextRequest returns the next envelope, which must be a request.
func (x *fakeStream) nextRequest(t testing.TB) pbx.Request {
	t.Helper()
	req, ok := x.next(t).Payload.(pbx.Request)
	require.True(t, ok)
	return req
}

// quiet asserts the client writes nothing for d.
func (x *fakeStream) quiet(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case msg := <-x.sent:
		t.Fatalf("unexpected envelope: %s", msg.Kind())
	case <-time.After(d):
	}
}

func (x *fakeStream) reply(payload pbx.ServerPayload) {
	x.recv <- &pbx.ServerMsg{Payload: payload}
}

// greet answers the handshake.
func (x *fakeStream) greet(t testing.TB) *pbx.ClientHi {
	t.Helper()
	hi, ok := x.next(t).Payload.(*pbx.ClientHi)
	require.True(t, ok)
	require.Equal(t, helloID, hi.ID)
	x.reply(&pbx.ServerCtrl{ID: hi.ID, Code: 201, Text: "created"})
	return hi
}

// newFakeSession returns a session on its own manager, connected to a
// greeted fake stream.
func newFakeSession(t testing.TB, opts ...Option) (*Session, *fakeStream) {
	t.Helper()
	stream := newFakeStream()
	m := NewManager(append([]Option{WithTransport(newFakeTransport(stream))}, opts...)...)
	t.Cleanup(func() { _ = m.Close() })
	s, err := m.NewSession("localhost", 16060)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()
	stream.greet(t)
	require.NoError(t, <-done)
	require.Equal(t, StateReady, s.State())

	return s, stream
}

func waitDone(t testing.TB, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}
