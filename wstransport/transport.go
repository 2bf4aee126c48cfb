// Package wstransport carries envelopes as JSON text frames over a
// WebSocket connection.
package wstransport

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joeycumines/go-chatloop/pbx"
)

const (
	// DefaultPath is the request path of the channels endpoint.
	DefaultPath = "/v0/channels"

	// APIKeyHeader carries the API key, see WithAPIKey.
	APIKeyHeader = "X-Tinode-APIKey"

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
)

// Transport is a pbx.Transport dialing a WebSocket connection per stream.
type Transport struct {
	dialer     *websocket.Dialer
	header     http.Header
	path       string
	scheme     string
	pongWait   time.Duration
	pingPeriod time.Duration
	readLimit  int64
}

// Option configures a Transport.
type Option func(t *Transport)

var _ pbx.Transport = (*Transport)(nil)

// New initializes a new Transport, dialing ws://<target>/v0/channels by
// default.
func New(opts ...Option) *Transport {
	t := Transport{
		dialer:     websocket.DefaultDialer,
		header:     make(http.Header),
		path:       DefaultPath,
		scheme:     "ws",
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
		readLimit:  maxMessageSize,
	}
	for _, o := range opts {
		o(&t)
	}
	return &t
}

// WithAPIKey sets the API key header sent on every handshake.
func WithAPIKey(key string) Option {
	return WithHeader(APIKeyHeader, key)
}

// WithHeader adds a header to every handshake request.
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		t.header.Add(key, value)
	}
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(t *Transport) {
		if dialer != nil {
			t.dialer = dialer
		}
	}
}

// WithPath replaces DefaultPath.
func WithPath(path string) Option {
	return func(t *Transport) {
		t.path = path
	}
}

// WithTLS dials wss:// instead of ws://.
func WithTLS() Option {
	return func(t *Transport) {
		t.scheme = "wss"
	}
}

// WithKeepAlive configures the ping period, and the time allowed to read
// the next pong (or any other message). A zero period disables pings, and
// the read deadline. The period must be less than wait.
func WithKeepAlive(period, wait time.Duration) Option {
	return func(t *Transport) {
		t.pingPeriod = period
		t.pongWait = wait
	}
}

// WithReadLimit sets the maximum size of a received message.
func WithReadLimit(limit int64) Option {
	return func(t *Transport) {
		t.readLimit = limit
	}
}

// URL returns the endpoint a stream to target would dial.
func (t *Transport) URL(target string) string {
	u := url.URL{Scheme: t.scheme, Host: target, Path: t.path}
	return u.String()
}

// Open dials target, a host:port pair.
func (t *Transport) Open(ctx context.Context, target string) (pbx.Stream, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.URL(target), t.header.Clone())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newStream(conn, t), nil
}
