package wstransport

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joeycumines/go-chatloop/pbx"
)

// Stream is a pbx.Stream over a WebSocket connection. One goroutine may call
// Send while another calls Recv.
type Stream struct {
	conn     *websocket.Conn
	done     chan struct{}
	once     sync.Once
	pongWait time.Duration
}

var _ pbx.Stream = (*Stream)(nil)

// NewStream wraps an established connection, e.g. one accepted by a
// websocket.Upgrader, using the default keep-alive.
func NewStream(conn *websocket.Conn) *Stream {
	return newStream(conn, New())
}

func newStream(conn *websocket.Conn, t *Transport) *Stream {
	s := Stream{
		conn:     conn,
		done:     make(chan struct{}),
		pongWait: t.pongWait,
	}
	conn.SetReadLimit(t.readLimit)
	if t.pingPeriod > 0 {
		s.extendRead()
		conn.SetPongHandler(func(string) error {
			s.extendRead()
			return nil
		})
		go s.ping(t.pingPeriod)
	}
	return &s
}

func (s *Stream) extendRead() {
	if s.pongWait > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	}
}

func (s *Stream) ping(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Send writes msg as a single text frame.
func (s *Stream) Send(msg *pbx.ClientMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv reads the next envelope. A normal closure by the peer is reported as
// io.EOF.
func (s *Stream) Recv() (*pbx.ServerMsg, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.extendRead()
		var msg pbx.ServerMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}
}

// Close sends a close frame, then closes the connection.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = s.conn.Close()
	})
	return err
}
