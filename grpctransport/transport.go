// Package grpctransport carries envelopes over the bidirectional streaming
// pbx.Node/MessageLoop gRPC method of a Tinode server, converting them to
// and from the generated protobuf messages.
package grpctransport

import (
	"context"
	"io"

	"github.com/joeycumines/go-chatloop/pbx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Transport is a pbx.Transport opening MessageLoop streams. By default, each
// stream gets a dedicated connection, dialed without transport security.
type Transport struct {
	conn     grpc.ClientConnInterface
	dialOpts []grpc.DialOption
	callOpts []grpc.CallOption
}

// Option configures a Transport.
type Option func(t *Transport)

var _ pbx.Transport = (*Transport)(nil)

// New initializes a new Transport.
func New(opts ...Option) *Transport {
	var t Transport
	for _, o := range opts {
		o(&t)
	}
	return &t
}

// WithConn shares cc between all streams, ignoring the target passed to
// Open. The caller retains ownership of cc.
func WithConn(cc grpc.ClientConnInterface) Option {
	return func(t *Transport) {
		t.conn = cc
	}
}

// WithDialOptions appends options used to dial dedicated connections. They
// are applied after the default, insecure credentials, which may therefore
// be replaced.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(t *Transport) {
		t.dialOpts = append(t.dialOpts, opts...)
	}
}

// WithCallOptions appends options used to open every stream.
func WithCallOptions(opts ...grpc.CallOption) Option {
	return func(t *Transport) {
		t.callOpts = append(t.callOpts, opts...)
	}
}

// Open opens a stream to target.
func (t *Transport) Open(ctx context.Context, target string) (pbx.Stream, error) {
	cc := t.conn
	var closer io.Closer
	if cc == nil {
		conn, err := grpc.NewClient(target, append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, t.dialOpts...)...)
		if err != nil {
			return nil, err
		}
		cc, closer = conn, conn
	}
	return NewStream(ctx, cc, closer, t.callOpts...)
}
