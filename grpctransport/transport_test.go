package grpctransport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	eventloop "github.com/joeycumines/go-eventloop"
	inprocgrpc "github.com/joeycumines/go-inprocgrpc"
	"github.com/joeycumines/go-chatloop/pbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pb "github.com/tinode/chat/pbx"
	"google.golang.org/grpc"
)

// echoNode answers every request with a 200 ctrl naming the request kind, and
// returns once it receives a leave.
type echoNode struct {
	pb.UnimplementedNodeServer
}

func (echoNode) MessageLoop(stream pb.Node_MessageLoopServer) error {
	for {
		in, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		msg := DecodeClientMsg(in)
		if _, ok := msg.Payload.(*pbx.ClientLeave); ok {
			return nil
		}
		req, ok := msg.Payload.(pbx.Request)
		if !ok {
			continue
		}
		out, err := EncodeServerMsg(&pbx.ServerMsg{Payload: &pbx.ServerCtrl{ID: req.GetID(), Code: 200, Text: msg.Kind()}})
		if err != nil {
			return err
		}
		if err := stream.Send(out); err != nil {
			return err
		}
	}
}

func newTestLoop(t testing.TB) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

func exerciseStream(t *testing.T, stream pbx.Stream) {
	t.Helper()

	require.NoError(t, stream.Send(&pbx.ClientMsg{Payload: &pbx.ClientHi{ID: "hello", Ver: "0.16"}}))
	require.NoError(t, stream.Send(&pbx.ClientMsg{Payload: &pbx.ClientSub{ID: "101", Topic: "me"}}))

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, &pbx.ServerCtrl{ID: "hello", Code: 200, Text: "hi"}, msg.Payload)

	msg, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, &pbx.ServerCtrl{ID: "101", Code: 200, Text: "sub"}, msg.Payload)

	require.NoError(t, stream.Send(&pbx.ClientMsg{Payload: &pbx.ClientLeave{Topic: "me"}}))
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}

func TestTransport_network(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	pb.RegisterNodeServer(srv, echoNode{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := New().Open(ctx, lis.Addr().String())
	require.NoError(t, err)
	exerciseStream(t, stream)
	assert.NoError(t, stream.(*Stream).Err())
}

func TestTransport_inProcess(t *testing.T) {
	ch := inprocgrpc.NewChannel(inprocgrpc.WithLoop(newTestLoop(t)))
	pb.RegisterNodeServer(ch, echoNode{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := New(WithConn(ch)).Open(ctx, "ignored:1")
	require.NoError(t, err)
	exerciseStream(t, stream)
}

func TestStream_Close_cancels(t *testing.T) {
	ch := inprocgrpc.NewChannel(inprocgrpc.WithLoop(newTestLoop(t)))
	pb.RegisterNodeServer(ch, echoNode{})

	stream, err := NewStream(context.Background(), ch, nil)
	require.NoError(t, err)

	recvErr := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		recvErr <- err
	}()

	require.NoError(t, stream.Close())
	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected done")
	}
	select {
	case err := <-recvErr:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("expected recv to unblock")
	}
	assert.ErrorIs(t, stream.Err(), context.Canceled)
}

func TestStream_Send_invalidPayload(t *testing.T) {
	ch := inprocgrpc.NewChannel(inprocgrpc.WithLoop(newTestLoop(t)))
	pb.RegisterNodeServer(ch, echoNode{})

	stream, err := NewStream(context.Background(), ch, nil)
	require.NoError(t, err)
	defer stream.Close()

	assert.ErrorIs(t, stream.Send(&pbx.ClientMsg{Payload: (*pbx.ClientPub)(nil)}), pbx.ErrNoPayload)
	assert.ErrorIs(t, stream.Send(&pbx.ClientMsg{}), pbx.ErrNoPayload)
	assert.NoError(t, stream.Err())

	require.NoError(t, stream.Send(&pbx.ClientMsg{Payload: &pbx.ClientHi{ID: "hello"}}))
	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, &pbx.ServerCtrl{ID: "hello", Code: 200, Text: "hi"}, msg.Payload)
}

func TestEncodeClientMsg_roundTrip(t *testing.T) {
	for _, payload := range []pbx.ClientPayload{
		&pbx.ClientHi{ID: "hello", UserAgent: "chatctl/1", Ver: "0.16", DeviceID: "d1", Lang: "EN", Platform: "web"},
		&pbx.ClientAcc{ID: "101", UserID: "new", Scheme: "basic", Secret: []byte("bob:x"), Login: true, Tags: []string{"email:bob@example.com"}, Desc: &pbx.SetDesc{Public: []byte(`{"fn":"Bob"}`)}},
		&pbx.ClientLogin{ID: "102", Scheme: "token", Secret: []byte("tok")},
		&pbx.ClientSub{ID: "103", Topic: "grpA", SetQuery: &pbx.SetQuery{Sub: &pbx.SetSub{Mode: "JRWP"}}, GetQuery: &pbx.GetQuery{What: "data", Data: &pbx.GetOpts{SinceID: 2, Limit: 5}}},
		&pbx.ClientLeave{ID: "104", Topic: "grpA", Unsub: true},
		&pbx.ClientPub{ID: "105", Topic: "grpA", NoEcho: true, Head: map[string][]byte{"mime": []byte(`"text/plain"`)}, Content: []byte(`"hi"`)},
		&pbx.ClientGet{ID: "106", Topic: "me", Query: &pbx.GetQuery{What: "sub", Sub: &pbx.GetOpts{IfModifiedSince: 1700000000000}}},
		&pbx.ClientSet{ID: "107", Topic: "grpA", Query: &pbx.SetQuery{Tags: []string{"region:us"}}},
		&pbx.ClientDel{ID: "108", Topic: "grpA", What: pbx.DelMsg, DelSeq: []pbx.SeqRange{{Low: 1, Hi: 3}}, Hard: true},
		&pbx.ClientNote{Topic: "grpA", What: pbx.NoteKeyPress},
		&pbx.ClientNote{Topic: "grpA", What: pbx.NoteRecv, SeqID: 4},
	} {
		msg, err := EncodeClientMsg(&pbx.ClientMsg{Payload: payload})
		require.NoError(t, err)
		assert.Equal(t, payload, DecodeClientMsg(msg).Payload)
	}

	msg, err := EncodeClientMsg(&pbx.ClientMsg{Payload: &pbx.ClientNote{Topic: "grpA", What: pbx.NoteKeyPress}})
	require.NoError(t, err)
	assert.Equal(t, pb.InfoNote_KP, msg.GetNote().GetWhat())

	msg, err = EncodeClientMsg(&pbx.ClientMsg{Payload: &pbx.ClientDel{Topic: "grpA", What: pbx.DelMsg}})
	require.NoError(t, err)
	assert.Equal(t, pb.ClientDel_MSG, msg.GetDel().GetWhat())

	_, err = EncodeClientMsg(&pbx.ClientMsg{Payload: (*pbx.ClientSub)(nil)})
	assert.ErrorIs(t, err, pbx.ErrNoPayload)

	assert.Nil(t, DecodeClientMsg(&pb.ClientMsg{}).Payload)
}

func TestEncodeServerMsg_roundTrip(t *testing.T) {
	for _, payload := range []pbx.ServerPayload{
		&pbx.ServerCtrl{ID: "101", Topic: "grpA", Code: 200, Text: "ok", Params: map[string][]byte{"seq": []byte(`5`)}},
		&pbx.ServerData{Topic: "grpA", FromUserID: "usrA", Timestamp: 1700000000500, SeqID: 5, Content: []byte(`"hi"`)},
		&pbx.ServerPres{Topic: "me", Src: "grpA", What: "on", SeqID: 2, DelSeq: []pbx.SeqRange{{Low: 1}}, Acs: &pbx.AccessMode{Want: "JRWP", Given: "JRW"}},
		&pbx.ServerMeta{
			ID:    "102",
			Topic: "grpA",
			Desc:  &pbx.TopicDesc{CreatedAt: 1700000000000, Defacs: &pbx.DefaultAcsMode{Auth: "JRWPS"}, SeqID: 5, Public: []byte(`{"fn":"A"}`)},
			Sub:   []*pbx.TopicSub{{UserID: "usrB", ReadID: 2, RecvID: 3, LastSeenTime: 1700000000000, LastSeenUserAgent: "web"}},
			Del:   &pbx.DelValues{DelID: 1, DelSeq: []pbx.SeqRange{{Low: 1, Hi: 3}}},
			Tags:  []string{"region:us"},
		},
		&pbx.ServerInfo{Topic: "grpA", FromUserID: "usrB", What: pbx.NoteRead, SeqID: 5},
	} {
		msg, err := EncodeServerMsg(&pbx.ServerMsg{Payload: payload})
		require.NoError(t, err)
		assert.Equal(t, payload, DecodeServerMsg(msg).Payload)
	}

	msg, err := EncodeServerMsg(&pbx.ServerMsg{Payload: &pbx.ServerPres{Topic: "me", What: "on"}})
	require.NoError(t, err)
	assert.Equal(t, pb.ServerPres_ON, msg.GetPres().GetWhat())

	assert.Nil(t, DecodeServerMsg(&pb.ServerMsg{}).Payload)
}
