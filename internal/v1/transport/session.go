package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/watchroom/sync-server/internal/v1/logging"
	"github.com/watchroom/sync-server/internal/v1/metrics"
	"github.com/watchroom/sync-server/internal/v1/room"
	"github.com/watchroom/sync-server/internal/v1/timesync"
	"github.com/watchroom/sync-server/internal/v1/types"
	"github.com/watchroom/sync-server/internal/v1/wire"
)

const writeWait = 10 * time.Second

// wsConnection is the subset of *websocket.Conn a Session needs, narrowed
// so tests can substitute a fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session binds one upgraded WebSocket connection to exactly one Room and
// UserID. It implements types.Transport so the Room can address it without
// importing this package.
type Session struct {
	conn   wsConnection
	room   *room.Room
	userID types.UserID
	cookie string

	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewSession wraps conn for the given room/userID/cookie. The caller is
// responsible for starting ReadPump and WritePump as separate goroutines.
func NewSession(conn wsConnection, r *room.Room, userID types.UserID, cookie string) *Session {
	return &Session{
		conn:   conn,
		room:   r,
		userID: userID,
		cookie: cookie,
		send:   make(chan []byte, 64),
	}
}

// Send implements types.Transport. It is safe to call after the session
// has closed: the message is silently dropped.
func (s *Session) Send(msg any) {
	data, ok := msg.([]byte)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.send <- data:
	default:
		logging.Warn(context.Background(), "session send buffer full, dropping frame",
			zap.Uint32("user_id", uint32(s.userID)))
	}
}

// ReadPump decodes inbound text frames into ClientMessages and delivers
// them to the bound Room until the connection errors or closes. On return
// it always delivers a synthetic Goodbye so the Room evicts the
// participant even if the client never sent one (e.g. a dropped network).
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.room.Deliver(ctx, room.ClientMessage{
			From:      s.userID,
			Cookie:    s.cookie,
			Message:   wire.UserMessage{Goodbye: &wire.GoodbyePayload{}},
			Transport: s,
		})
		s.closeSend()
		s.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg wire.UserMessage
		if err := msg.UnmarshalJSON(data); err != nil {
			metrics.WireParseErrorsTotal.WithLabelValues("decode").Inc()
			logging.Warn(ctx, "failed to decode inbound frame",
				zap.Uint32("user_id", uint32(s.userID)), zap.Error(err))
			if errData, marshalErr := wire.Marshal(wire.ErrorMsg{Text: err.Error()}); marshalErr == nil {
				s.Send(errData)
			}
			continue
		}

		s.room.Deliver(ctx, room.ClientMessage{
			From:       s.userID,
			Cookie:     s.cookie,
			ServerTime: timesync.Now(),
			Message:    msg,
			Transport:  s,
		})
	}
}

// WritePump drains the outbound buffer onto the connection until it is
// closed or ctx is cancelled. There is exactly one writer per connection,
// matching gorilla/websocket's single-writer requirement.
func (s *Session) WritePump(ctx context.Context) {
	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Warn(ctx, "error writing session frame",
					zap.Uint32("user_id", uint32(s.userID)), zap.Error(err))
				return
			}
		}
	}
}

func (s *Session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
