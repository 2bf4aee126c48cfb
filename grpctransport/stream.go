package grpctransport

import (
	"context"
	"io"
	"sync"

	"github.com/joeycumines/go-chatloop/pbx"
	pb "github.com/tinode/chat/pbx"
	"google.golang.org/grpc"
)

// Stream wraps a MessageLoop client stream as a pbx.Stream. Send and Recv
// may be called concurrently with each other. The first error observed is
// sticky.
type Stream struct {
	ctx    context.Context
	stream pb.Node_MessageLoopClient
	err    error
	cancel context.CancelFunc
	closer io.Closer
	once   sync.Once
	mu     sync.Mutex
}

var _ pbx.Stream = (*Stream)(nil)

// NewStream opens a new Stream on cc. If closer is non-nil, it is closed
// along with the stream, e.g. to release a connection dedicated to it.
func NewStream(ctx context.Context, cc grpc.ClientConnInterface, closer io.Closer, opts ...grpc.CallOption) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	var success bool
	defer func() {
		if !success {
			cancel()
			if closer != nil {
				_ = closer.Close()
			}
		}
	}()

	stream, err := pb.NewNodeClient(cc).MessageLoop(ctx, opts...)
	if err != nil {
		return nil, err
	}

	success = true

	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		stream: stream,
		closer: closer,
	}, nil
}

// Send writes msg. An envelope without a valid payload fails with
// pbx.ErrNoPayload, without affecting the stream.
func (x *Stream) Send(msg *pbx.ClientMsg) error {
	m, err := EncodeClientMsg(msg)
	if err != nil {
		return err
	}
	if err := x.stream.Send(m); err != nil {
		// note: io.EOF means the stream ended, the cause surfaces via Recv
		return x.fatalErr(err)
	}
	return nil
}

// Recv reads the next envelope, returning io.EOF once the server ends the
// stream cleanly. The payload is nil for envelopes of unmodeled kinds.
func (x *Stream) Recv() (*pbx.ServerMsg, error) {
	msg, err := x.stream.Recv()
	if err != nil {
		return nil, x.fatalErr(err)
	}
	return DecodeServerMsg(msg), nil
}

// Close cancels the stream.
func (x *Stream) Close() error {
	var err error
	x.once.Do(func() {
		x.fatalErr(nil)
		if x.closer != nil {
			err = x.closer.Close()
		}
	})
	return err
}

// Done is closed once the stream has been canceled, or has failed.
func (x *Stream) Done() <-chan struct{} {
	return x.ctx.Done()
}

// Err returns the first error the stream failed with, or nil if it ended
// cleanly, or is still running.
func (x *Stream) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err == io.EOF {
		return nil
	}
	return x.err
}

func (x *Stream) fatalErr(err error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err != nil {
		return x.err
	}
	x.cancel()
	if err != nil {
		x.err = err
	} else {
		x.err = x.ctx.Err()
	}
	return x.err
}
