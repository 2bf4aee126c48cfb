package pbx

import (
	"context"
)

type (
	// Transport opens envelope streams to a chat server.
	Transport interface {
		// Open establishes a new stream to target, a "host:port" address.
		// The stream lives until Close is called or ctx is canceled.
		Open(ctx context.Context, target string) (Stream, error)
	}

	// Stream is one bidirectional envelope stream. Send and Recv may be
	// called concurrently with each other, but neither concurrently with
	// itself.
	Stream interface {
		// Send writes one envelope, blocking until it is accepted by the
		// underlying connection.
		Send(msg *ClientMsg) error

		// Recv blocks until the next envelope arrives. It returns io.EOF
		// once the server ends the stream cleanly.
		Recv() (*ServerMsg, error)

		// Close cancels the stream, unblocking Send and Recv. Safe to call
		// more than once.
		Close() error
	}
)
