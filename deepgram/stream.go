package deepgram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	keepAliveMessage   = `{"type":"KeepAlive"}`
	closeStreamMessage = `{"type":"CloseStream"}`
	closeStreamTimeout = 2 * time.Second
	maxEventSize       = 1 << 20
)

// Stream is one open Deepgram listen connection.
type Stream struct {
	conn *websocket.Conn
	once sync.Once
}

// Dial opens a streaming connection. It returns once the WebSocket handshake
// completes, so a returned Stream is already open.
func (c *Client) Dial(ctx context.Context) (*Stream, error) {
	wsURL, err := c.listenURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	// The dial context bounds the handshake; a client-level timeout would also
	// cap the lifetime of the hijacked connection.
	hc := *c.httpClient
	hc.Timeout = 0

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: &hc,
		HTTPHeader: c.authHeader(),
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	conn.SetReadLimit(maxEventSize)

	return &Stream{conn: conn}, nil
}

// SendAudio forwards one audio chunk verbatim as a binary frame.
func (s *Stream) SendAudio(ctx context.Context, audio []byte) error {
	return s.conn.Write(ctx, websocket.MessageBinary, audio)
}

// SendControl forwards a text frame verbatim.
func (s *Stream) SendControl(ctx context.Context, msg []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, msg)
}

// KeepAlive sends Deepgram's keep-alive control frame.
func (s *Stream) KeepAlive(ctx context.Context) error {
	return s.conn.Write(ctx, websocket.MessageText, []byte(keepAliveMessage))
}

// Receive blocks until the next event frame arrives.
func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

// Close asks Deepgram to flush and closes the connection. Safe to call more
// than once.
func (s *Stream) Close() error {
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeStreamTimeout)
		_ = s.conn.Write(ctx, websocket.MessageText, []byte(closeStreamMessage))
		cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
