package chatloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/go-chatloop/pbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendResult struct {
	resp *pbx.ServerMsg
	err  error
}

func sendAsync(s *Session, payload pbx.ClientPayload) <-chan sendResult {
	ch := make(chan sendResult, 1)
	go func() {
		resp, err := s.Send(context.Background(), &pbx.ClientMsg{Payload: payload})
		ch <- sendResult{resp, err}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan sendResult) sendResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return sendResult{}
	}
}

func TestSession_handshake(t *testing.T) {
	stream := newFakeStream()
	transport := newFakeTransport(stream)
	m := NewManager(WithTransport(transport), WithUserAgent("chatctl/1"), WithDeviceID("d1"))
	defer m.Close()
	s, err := m.NewSession("chat.example.com", 16060)
	require.NoError(t, err)
	assert.Equal(t, "chat.example.com:16060", s.Target())
	assert.Equal(t, StateUnconnected, s.State())
	assert.Equal(t, int32(0), transport.opens.Load())

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()
	hi := stream.greet(t)
	require.NoError(t, <-done)

	assert.Equal(t, &pbx.ClientHi{
		ID:        "hello",
		UserAgent: "chatctl/1",
		Ver:       DefaultProtocolVersion,
		DeviceID:  "d1",
		Lang:      DefaultLanguage,
		Platform:  DefaultPlatform,
	}, hi)
	assert.Equal(t, StateReady, s.State())

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, int32(1), transport.opens.Load())
}

func TestSession_handshake_rejected(t *testing.T) {
	stream := newFakeStream()
	m := NewManager(WithTransport(newFakeTransport(stream)))
	defer m.Close()
	s, err := m.NewSession("localhost", 16060)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()
	stream.next(t)
	stream.reply(&pbx.ServerCtrl{ID: helloID, Code: 503, Text: "service unavailable"})

	err = <-done
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, int32(503), serverErr.Code)
	waitDone(t, s.Done())
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorAs(t, s.Err(), &serverErr)
	assert.True(t, stream.isClosed())

	// the session is not reconnected
	assert.Error(t, s.Subscribe(context.Background(), TopicMe))
}

func TestSession_handshake_timeout(t *testing.T) {
	stream := newFakeStream()
	m := NewManager(WithTransport(newFakeTransport(stream)), WithHandshakeTimeout(20*time.Millisecond))
	defer m.Close()
	s, err := m.NewSession("localhost", 16060)
	require.NoError(t, err)

	err = s.Connect(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	waitDone(t, s.Done())
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, stream.isClosed())
}

type transportFunc func(ctx context.Context, target string) (pbx.Stream, error)

func (f transportFunc) Open(ctx context.Context, target string) (pbx.Stream, error) {
	return f(ctx, target)
}

// lateGreetingStream answers the handshake only once it has been closed, as
// if the reply was already in flight.
type lateGreetingStream struct {
	*fakeStream
}

func (x lateGreetingStream) Recv() (*pbx.ServerMsg, error) {
	<-x.closed
	return &pbx.ServerMsg{Payload: &pbx.ServerCtrl{ID: helloID, Code: 201, Text: "created"}}, nil
}

func TestSession_handshake_timeoutRacesReply(t *testing.T) {
	stream := lateGreetingStream{newFakeStream()}
	transport := transportFunc(func(context.Context, string) (pbx.Stream, error) { return stream, nil })
	m := NewManager(WithTransport(transport), WithHandshakeTimeout(20*time.Millisecond))
	defer m.Close()
	s, err := m.NewSession("localhost", 16060)
	require.NoError(t, err)

	err = s.Connect(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	waitDone(t, s.Done())
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Err(), context.DeadlineExceeded)
	assert.True(t, stream.isClosed())
}

func TestSession_handshake_loopTerminated(t *testing.T) {
	stream := newFakeStream()
	m := NewManager(WithTransport(newFakeTransport(stream)))
	defer m.Close()
	s, err := m.NewSession("localhost", 16060)
	require.NoError(t, err)

	// stops the loop without closing the session
	_ = m.r.loop.Shutdown(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()
	stream.greet(t)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrManagerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("expected connect to fail")
	}

	waitDone(t, s.Done())
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Err(), ErrManagerClosed)
	assert.True(t, stream.isClosed())
	m.mu.Lock()
	_, ok := m.sessions[s]
	m.mu.Unlock()
	assert.False(t, ok)
}

func TestSession_concurrentConnect_singleHandshake(t *testing.T) {
	stream := newFakeStream()
	transport := newFakeTransport(stream)
	m := NewManager(WithTransport(transport))
	defer m.Close()
	s, err := m.NewSession("localhost", 16060)
	require.NoError(t, err)

	const k = 16
	done := make(chan error, k)
	for range k {
		go func() { done <- s.Connect(context.Background()) }()
	}
	stream.greet(t)
	for range k {
		require.NoError(t, <-done)
	}
	assert.Equal(t, int32(1), transport.opens.Load())
	stream.quiet(t, 20*time.Millisecond)
}

func TestSession_correlation_outOfOrder(t *testing.T) {
	s, stream := newFakeSession(t)

	results := make(map[string]<-chan sendResult)
	ids := make(map[string]string)
	for _, topic := range []string{"grpA", "grpB", "grpC"} {
		// wait for each write so ids are assigned in order
		results[topic] = sendAsync(s, &pbx.ClientSub{Topic: topic})
		req := stream.nextRequest(t)
		assert.Equal(t, topic, req.(*pbx.ClientSub).Topic)
		ids[topic] = req.GetID()
	}
	assert.Equal(t, map[string]string{"grpA": "101", "grpB": "102", "grpC": "103"}, ids)

	for _, topic := range []string{"grpC", "grpA", "grpB"} {
		stream.reply(&pbx.ServerCtrl{ID: ids[topic], Topic: topic, Code: 200, Text: "ok"})
	}

	for topic, ch := range results {
		r := receive(t, ch)
		require.NoError(t, r.err)
		ctrl, ok := r.resp.Payload.(*pbx.ServerCtrl)
		require.True(t, ok)
		assert.Equal(t, topic, ctrl.Topic)
		assert.Equal(t, ids[topic], ctrl.ID)
	}
}

func TestSession_duplicateReply(t *testing.T) {
	s, stream := newFakeSession(t)

	ch := sendAsync(s, &pbx.ClientGet{Topic: "grpA", Query: &pbx.GetQuery{What: "desc"}})
	req := stream.nextRequest(t)
	stream.reply(&pbx.ServerMeta{ID: req.GetID(), Topic: "grpA", Desc: &pbx.TopicDesc{SeqID: 7}})
	stream.reply(&pbx.ServerMeta{ID: req.GetID(), Topic: "grpA", Desc: &pbx.TopicDesc{SeqID: 8}})

	r := receive(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, int32(7), r.resp.Payload.(*pbx.ServerMeta).Desc.SeqID)

	// the duplicate is dropped, and later requests are unaffected
	ch = sendAsync(s, &pbx.ClientLeave{Topic: "grpA"})
	req = stream.nextRequest(t)
	assert.Equal(t, "102", req.GetID())
	stream.reply(&pbx.ServerCtrl{ID: req.GetID(), Code: 200})
	require.NoError(t, receive(t, ch).err)

	n, err := call(s.r, s.table.len)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSession_unsolicitedReply(t *testing.T) {
	s, stream := newFakeSession(t)
	stream.reply(&pbx.ServerCtrl{Code: 200, Text: "unsolicited"})
	stream.reply(&pbx.ServerCtrl{ID: "999", Code: 200})

	ch := sendAsync(s, &pbx.ClientSub{Topic: TopicMe})
	req := stream.nextRequest(t)
	stream.reply(&pbx.ServerCtrl{ID: req.GetID(), Code: 200})
	require.NoError(t, receive(t, ch).err)
	assert.Equal(t, StateReady, s.State())
}

func TestSession_replyErrors(t *testing.T) {
	for _, tc := range [...]struct {
		name  string
		check func(t *testing.T, err error)
		code  int32
	}{
		{
			name: "rejected",
			code: 409,
			check: func(t *testing.T, err error) {
				var target *RejectedError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, int32(409), target.Code)
				assert.Equal(t, "duplicate", target.Text)
				assert.Equal(t, "grpA", target.Topic)
			},
		},
		{
			name: "server",
			code: 500,
			check: func(t *testing.T, err error) {
				var target *ServerError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, int32(500), target.Code)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, stream := newFakeSession(t)
			ch := sendAsync(s, &pbx.ClientPub{Topic: "grpA", Content: []byte(`"hi"`)})
			req := stream.nextRequest(t)
			text := "duplicate"
			if tc.code >= 500 {
				text = "internal error"
			}
			stream.reply(&pbx.ServerCtrl{ID: req.GetID(), Topic: "grpA", Code: tc.code, Text: text})
			r := receive(t, ch)
			require.Error(t, r.err)
			require.NotNil(t, r.resp)
			tc.check(t, r.err)
			assert.Equal(t, StateReady, s.State())
		})
	}
}

func TestSession_unexpectedReply(t *testing.T) {
	s, stream := newFakeSession(t)
	done := make(chan error, 1)
	go func() {
		_, err := s.GetTopicDescription(context.Background(), "grpA", time.Time{})
		done <- err
	}()
	req := stream.nextRequest(t)
	stream.reply(&pbx.ServerCtrl{ID: req.GetID(), Code: 200})
	assert.ErrorIs(t, <-done, ErrUnexpectedReply)
}

// barrier completes a round trip, after which everything the server sent
// before it has been dispatched.
func barrier(t *testing.T, s *Session, stream *fakeStream) {
	t.Helper()
	ch := sendAsync(s, &pbx.ClientSub{Topic: TopicMe})
	req := stream.nextRequest(t)
	stream.reply(&pbx.ServerCtrl{ID: req.GetID(), Code: 200})
	require.NoError(t, receive(t, ch).err)
}

func TestSession_pushes_fifo(t *testing.T) {
	s, stream := newFakeSession(t)
	for i := int32(1); i <= 3; i++ {
		stream.reply(&pbx.ServerData{Topic: "grpA", FromUserID: "usr1", SeqID: i, Content: []byte(`"m"`)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cursor := s.Pushes()
	var got []int32
	for range 3 {
		msg, err := cursor.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "grpA", msg.Topic())
		got = append(got, msg.ID())
	}
	assert.Equal(t, []int32{1, 2, 3}, got)
}

func TestSession_pushes_drainAfterClose(t *testing.T) {
	s, stream := newFakeSession(t)
	stream.reply(&pbx.ServerData{Topic: "grpA", SeqID: 1})
	stream.reply(&pbx.ServerData{Topic: "grpA", SeqID: 2})

	barrier(t, s, stream)
	require.NoError(t, s.Close())

	ctx := context.Background()
	var got []int32
	for msg, err := range s.Messages(ctx) {
		if err != nil {
			assert.ErrorIs(t, err, ErrSessionClosed)
			break
		}
		got = append(got, msg.ID())
	}
	assert.Equal(t, []int32{1, 2}, got)
}

func TestSession_pushes_wakeOnClose(t *testing.T) {
	s, _ := newFakeSession(t)
	done := make(chan error, 1)
	go func() {
		_, err := s.Pushes().Next(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("expected the cursor to wake")
	}
}

func TestSession_NextBatch(t *testing.T) {
	s, stream := newFakeSession(t)
	for i := int32(1); i <= 5; i++ {
		stream.reply(&pbx.ServerData{Topic: "grpA", SeqID: i})
	}
	barrier(t, s, stream)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cursor := s.Pushes()

	var got []int32
	handler := func(msg *DataMessage) error {
		got = append(got, msg.ID())
		return nil
	}
	cfg := &BatchConfig{MaxSize: 3, MinSize: 2, PartialTimeout: 10 * time.Millisecond}
	require.NoError(t, cursor.NextBatch(ctx, cfg, handler))
	assert.Equal(t, []int32{1, 2, 3}, got)

	got = nil
	require.NoError(t, cursor.NextBatch(ctx, cfg, handler))
	assert.Equal(t, []int32{4, 5}, got)

	stream.reply(&pbx.ServerData{Topic: "grpA", SeqID: 6})
	got = nil
	require.NoError(t, cursor.NextBatch(ctx, cfg, handler))
	assert.Equal(t, []int32{6}, got)

	require.NoError(t, s.Close())
	err := cursor.NextBatch(ctx, cfg, handler)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_NextBatch_negativeMinSize(t *testing.T) {
	s, stream := newFakeSession(t)
	cursor := s.Pushes()

	var got []int32
	handler := func(msg *DataMessage) error {
		got = append(got, msg.ID())
		return nil
	}

	start := time.Now()
	require.NoError(t, cursor.NextBatch(context.Background(), &BatchConfig{MinSize: -1, PartialTimeout: 50 * time.Millisecond}, handler))
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- cursor.NextBatch(context.Background(), &BatchConfig{MinSize: -1, PartialTimeout: 5 * time.Second}, handler)
	}()
	time.Sleep(30 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("unexpected return: %v", err)
	default:
	}
	stream.reply(&pbx.ServerData{Topic: "grpA", SeqID: 1})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(4 * time.Second):
		t.Fatal("expected the first message to end the batch")
	}
	assert.Equal(t, []int32{1}, got)
}

func TestSession_Send_typedNilPayload(t *testing.T) {
	s, stream := newFakeSession(t)
	ctx := context.Background()

	for _, payload := range []pbx.ClientPayload{(*pbx.ClientPub)(nil), (*pbx.ClientNote)(nil), (*pbx.ClientSub)(nil)} {
		var (
			resp *pbx.ServerMsg
			err  error
		)
		require.NotPanics(t, func() { resp, err = s.Send(ctx, &pbx.ClientMsg{Payload: payload}) })
		assert.Nil(t, resp)
		var stateErr *StateError
		assert.ErrorAs(t, err, &stateErr)
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	}

	stream.quiet(t, 20*time.Millisecond)
	assert.Equal(t, StateReady, s.State())
}

func TestSession_sendAfterClose(t *testing.T) {
	s, stream := newFakeSession(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	waitDone(t, s.Done())
	assert.True(t, stream.isClosed())
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Err(), ErrSessionClosed)

	err := s.Subscribe(context.Background(), TopicMe)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateClosed, stateErr.State)
	assert.ErrorIs(t, err, ErrSessionClosed)

	assert.ErrorIs(t, s.NotifyKeyPress(context.Background(), "grpA"), ErrSessionClosed)
}

func TestSession_closeFailsInFlight(t *testing.T) {
	s, stream := newFakeSession(t)
	ch := sendAsync(s, &pbx.ClientSub{Topic: "grpA"})
	stream.nextRequest(t)

	require.NoError(t, s.Close())

	r := receive(t, ch)
	var stateErr *StateError
	require.ErrorAs(t, r.err, &stateErr)
	assert.ErrorIs(t, r.err, ErrSessionClosed)
}

func TestSession_connectionLost(t *testing.T) {
	s, stream := newFakeSession(t)
	ch := sendAsync(s, &pbx.ClientSub{Topic: "grpA"})
	stream.nextRequest(t)

	stream.errs <- errors.New("connection reset by peer")

	r := receive(t, ch)
	assert.ErrorIs(t, r.err, ErrConnectionLost)
	var connErr *ConnectionError
	require.ErrorAs(t, r.err, &connErr)
	assert.EqualError(t, connErr.Cause, "connection reset by peer")

	waitDone(t, s.Done())
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Err(), ErrConnectionLost)
	assert.True(t, stream.isClosed())

	err := s.Leave(context.Background(), "grpA", false)
	assert.ErrorIs(t, err, ErrConnectionLost)
	var stateErr *StateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestSession_contextCanceled(t *testing.T) {
	s, stream := newFakeSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, "grpA")
	}()
	req := stream.nextRequest(t)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// a late reply is dropped
	stream.reply(&pbx.ServerCtrl{ID: req.GetID(), Code: 200})
	ch := sendAsync(s, &pbx.ClientSub{Topic: "grpB"})
	req = stream.nextRequest(t)
	stream.reply(&pbx.ServerCtrl{ID: req.GetID(), Code: 200})
	require.NoError(t, receive(t, ch).err)

	n, err := call(s.r, s.table.len)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSession_Send_malformed(t *testing.T) {
	s, stream := newFakeSession(t)

	_, err := s.Send(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	_, err = s.Send(context.Background(), &pbx.ClientMsg{})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	_, err = s.send(context.Background(), "test", &pbx.ClientNote{Topic: "grpA", What: pbx.NoteRead, SeqID: 1}, true)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	stream.quiet(t, 20*time.Millisecond)
}

func TestSession_Send_note(t *testing.T) {
	s, stream := newFakeSession(t)
	resp, err := s.Send(context.Background(), &pbx.ClientMsg{Payload: &pbx.ClientNote{Topic: "grpA", What: pbx.NoteRecv, SeqID: 4}})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, &pbx.ClientNote{Topic: "grpA", What: pbx.NoteRecv, SeqID: 4}, stream.next(t).Payload)
}

func TestSession_NotifyKeyPress_throttled(t *testing.T) {
	s, stream := newFakeSession(t)
	ctx := context.Background()

	require.NoError(t, s.NotifyKeyPress(ctx, "grpA"))
	require.NoError(t, s.NotifyKeyPress(ctx, "grpA"))
	require.NoError(t, s.NotifyKeyPress(ctx, "grpB"))

	assert.Equal(t, &pbx.ClientNote{Topic: "grpA", What: pbx.NoteKeyPress}, stream.next(t).Payload)
	assert.Equal(t, &pbx.ClientNote{Topic: "grpB", What: pbx.NoteKeyPress}, stream.next(t).Payload)
	stream.quiet(t, 20*time.Millisecond)
}

func TestSession_NotifyKeyPress_unthrottled(t *testing.T) {
	s, stream := newFakeSession(t, WithKeyPressRates(nil))
	ctx := context.Background()
	for range 3 {
		require.NoError(t, s.NotifyKeyPress(ctx, "grpA"))
	}
	for range 3 {
		assert.Equal(t, &pbx.ClientNote{Topic: "grpA", What: pbx.NoteKeyPress}, stream.next(t).Payload)
	}
}

func TestSession_receipts_immediate(t *testing.T) {
	s, stream := newFakeSession(t)
	ctx := context.Background()
	require.NoError(t, s.NotifyRead(ctx, "grpA", 3))
	require.NoError(t, s.NotifyReceived(ctx, "grpA", 4))
	assert.Equal(t, &pbx.ClientNote{Topic: "grpA", What: pbx.NoteRead, SeqID: 3}, stream.next(t).Payload)
	assert.Equal(t, &pbx.ClientNote{Topic: "grpA", What: pbx.NoteRecv, SeqID: 4}, stream.next(t).Payload)
}

func TestSession_receipts_coalesced(t *testing.T) {
	s, stream := newFakeSession(t, WithReceiptBatching(&ReceiptConfig{MaxSize: 100, FlushInterval: 30 * time.Millisecond}))
	ctx := context.Background()

	require.NoError(t, s.NotifyRead(ctx, "grpA", 1))
	require.NoError(t, s.NotifyRead(ctx, "grpA", 5))
	require.NoError(t, s.NotifyRead(ctx, "grpA", 3))
	require.NoError(t, s.NotifyReceived(ctx, "grpA", 2))
	require.NoError(t, s.NotifyRead(ctx, "grpB", 9))

	assert.Equal(t, &pbx.ClientNote{Topic: "grpA", What: pbx.NoteRead, SeqID: 5}, stream.next(t).Payload)
	assert.Equal(t, &pbx.ClientNote{Topic: "grpA", What: pbx.NoteRecv, SeqID: 2}, stream.next(t).Payload)
	assert.Equal(t, &pbx.ClientNote{Topic: "grpB", What: pbx.NoteRead, SeqID: 9}, stream.next(t).Payload)
	stream.quiet(t, 60*time.Millisecond)
}

func TestSession_receipts_maxSize(t *testing.T) {
	s, stream := newFakeSession(t, WithReceiptBatching(&ReceiptConfig{MaxSize: 2, FlushInterval: time.Hour}))
	ctx := context.Background()

	require.NoError(t, s.NotifyRead(ctx, "grpA", 1))
	require.NoError(t, s.NotifyRead(ctx, "grpB", 2))

	assert.Equal(t, &pbx.ClientNote{Topic: "grpA", What: pbx.NoteRead, SeqID: 1}, stream.next(t).Payload)
	assert.Equal(t, &pbx.ClientNote{Topic: "grpB", What: pbx.NoteRead, SeqID: 2}, stream.next(t).Payload)
}

func TestSession_Observe(t *testing.T) {
	s, stream := newFakeSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	observed := make(chan *pbx.ServerMsg)
	stop := s.Observe(ctx, observed)
	defer stop()

	stream.reply(&pbx.ServerInfo{Topic: "grpA", FromUserID: "usr2", What: pbx.NoteKeyPress})
	select {
	case msg := <-observed:
		assert.Equal(t, &pbx.ServerInfo{Topic: "grpA", FromUserID: "usr2", What: pbx.NoteKeyPress}, msg.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("expected an observed envelope")
	}
}

func TestSession_UserID(t *testing.T) {
	s, stream := newFakeSession(t)

	_, err := s.UserID()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	done := make(chan error, 1)
	var token string
	go func() {
		var err error
		token, err = s.Login(context.Background(), "alice:secret", SchemeBasic)
		done <- err
	}()
	login := stream.nextRequest(t).(*pbx.ClientLogin)
	assert.Equal(t, SchemeBasic, login.Scheme)
	assert.Equal(t, []byte("alice:secret"), login.Secret)
	stream.reply(&pbx.ServerCtrl{ID: login.ID, Code: 200, Params: map[string][]byte{
		"user":  []byte(`"usrAlice"`),
		"token": []byte(`"dG9rZW4="`),
	}})
	require.NoError(t, <-done)
	assert.Equal(t, "dG9rZW4=", token)

	id, err := s.UserID()
	require.NoError(t, err)
	assert.Equal(t, "usrAlice", id)
}

func TestSession_Dial_ownsManager(t *testing.T) {
	stream := newFakeStream()
	s, err := Dial("localhost", 16060, WithTransport(newFakeTransport(stream)))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()
	stream.greet(t)
	require.NoError(t, <-done)

	r := s.r
	require.NoError(t, s.Close())
	waitDone(t, r.done)
	assert.NoError(t, s.manager.Close())
}
