package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/senserelay/messages"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 4 * 1024 * 1024 // base64 video frames
)

type outbound struct {
	messageType int
	data        []byte
}

// ClientSession owns one client WebSocket connection. All writes go through a
// single write pump; sending after Close is a no-op.
type ClientSession struct {
	conn   *websocket.Conn
	clock  *messages.Clock
	logger *logrus.Entry

	writeChan chan outbound
	closeChan chan struct{}
	closeOnce sync.Once

	// sendMu keeps timestamps in wire order.
	sendMu sync.Mutex

	mu           sync.RWMutex
	closed       bool
	started      bool
	lastActivity time.Time
}

// NewClientSession wraps an upgraded connection.
func NewClientSession(conn *websocket.Conn, logger *logrus.Entry) *ClientSession {
	conn.SetReadLimit(maxMessageSize)

	return &ClientSession{
		conn:         conn,
		clock:        messages.NewClock(),
		logger:       logger,
		writeChan:    make(chan outbound, writeBufferSize),
		closeChan:    make(chan struct{}),
		lastActivity: time.Now(),
	}
}

// Start runs the write pump and the read loop. handler is called for every
// inbound frame from a single goroutine; onClose runs when the read loop ends.
func (cs *ClientSession) Start(handler func(messageType int, data []byte), onClose func()) {
	cs.mu.Lock()
	if cs.closed || cs.started {
		cs.mu.Unlock()
		return
	}
	cs.started = true
	cs.mu.Unlock()

	go cs.writePump()
	go cs.readPump(handler, onClose)
}

// Send stamps env with the session clock and queues it.
func (cs *ClientSession) Send(env *messages.Envelope) {
	cs.sendMu.Lock()
	defer cs.sendMu.Unlock()

	env.Timestamp = cs.clock.Now()
	data, err := env.Encode()
	if err != nil {
		cs.logger.WithError(err).Error("failed to encode envelope")
		return
	}
	cs.queue(outbound{messageType: websocket.TextMessage, data: data})
}

// SendRaw queues an unmodified text frame.
func (cs *ClientSession) SendRaw(data []byte) {
	cs.sendMu.Lock()
	defer cs.sendMu.Unlock()
	cs.queue(outbound{messageType: websocket.TextMessage, data: data})
}

// queue adds a message to the write queue (non-blocking)
func (cs *ClientSession) queue(msg outbound) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return
	}
	select {
	case cs.writeChan <- msg:
		cs.lastActivity = time.Now()
	default:
		cs.logger.Warn("client write queue full, dropping message")
	}
}

// writePump handles all outgoing messages in a single goroutine
func (cs *ClientSession) writePump() {
	defer func() {
		// Send close message before exiting
		_ = cs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = cs.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = cs.conn.Close()
	}()

	for {
		select {
		case msg := <-cs.writeChan:
			if !cs.write(msg) {
				return
			}
		case <-cs.closeChan:
			// Flush whatever was queued before close.
			for {
				select {
				case msg := <-cs.writeChan:
					if !cs.write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (cs *ClientSession) write(msg outbound) bool {
	_ = cs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := cs.conn.WriteMessage(msg.messageType, msg.data); err != nil {
		cs.logger.WithError(err).Debug("client write failed")
		return false
	}
	return true
}

func (cs *ClientSession) readPump(handler func(int, []byte), onClose func()) {
	defer onClose()
	for {
		mt, data, err := cs.conn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.logger.WithError(err).Warn("client read error")
			}
			return
		}

		cs.mu.Lock()
		cs.lastActivity = time.Now()
		cs.mu.Unlock()

		handler(mt, data)
	}
}

// Close flushes queued messages, sends a close frame and closes the
// connection. Safe to call more than once.
func (cs *ClientSession) Close() {
	cs.closeOnce.Do(func() {
		cs.mu.Lock()
		cs.closed = true
		started := cs.started
		cs.mu.Unlock()

		close(cs.closeChan)
		if !started {
			_ = cs.conn.Close()
		}
	})
}

// IsClosed reports whether Close has been called.
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// LastActivity returns the time of the last inbound or outbound message.
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}
