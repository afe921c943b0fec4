package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/sync-server/internal/v1/room"
	"github.com/watchroom/sync-server/internal/v1/types"
)

// fakeConn is an in-memory stand-in for *websocket.Conn, feeding ReadPump
// from a queue of inbound frames and capturing outbound ones.
type fakeConn struct {
	mu       sync.Mutex
	inbound  [][]byte
	outbound [][]byte
	closed   bool
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		for !f.closed {
			f.mu.Unlock()
			time.Sleep(time.Millisecond)
			f.mu.Lock()
			if len(f.inbound) > 0 {
				break
			}
		}
		if f.closed && len(f.inbound) == 0 {
			return 0, nil, assert.AnError
		}
	}
	msg := f.inbound[0]
	f.inbound = f.inbound[1:]
	return websocket.TextMessage, msg, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound = append(f.outbound, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) push(frame string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, []byte(frame))
}

func (f *fakeConn) outboundTagged(tag string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, frame := range f.outbound {
		var generic map[string]json.RawMessage
		if err := json.Unmarshal(frame, &generic); err != nil {
			continue
		}
		if payload, ok := generic[tag]; ok {
			out = append(out, payload)
		}
	}
	return out
}

func startTestRoom(t *testing.T) (*room.Room, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := room.New(types.RoomCode("room1"), "Movie Night", nil, room.WithPingInterval(time.Hour))
	go r.Run(ctx)
	return r, func() {
		cancel()
		<-r.Done()
	}
}

func TestReadPump_DeliversHelloAndReceivesRoomState(t *testing.T) {
	r, stop := startTestRoom(t)
	defer stop()

	conn := &fakeConn{}
	sess := NewSession(conn, r, r.GetUserID(context.Background(), "cookie-a"), "cookie-a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.WritePump(ctx)
	go sess.ReadPump(ctx)

	conn.push(`{"Hello":{"name":"Alice","avatar":0,"time":0}}`)

	require.Eventually(t, func() bool {
		return len(conn.outboundTagged("RoomState")) > 0
	}, time.Second, 5*time.Millisecond)

	conn.Close()
}

func TestReadPump_MalformedFrameGetsErrorReply(t *testing.T) {
	r, stop := startTestRoom(t)
	defer stop()

	conn := &fakeConn{}
	sess := NewSession(conn, r, r.GetUserID(context.Background(), "cookie-b"), "cookie-b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.WritePump(ctx)
	go sess.ReadPump(ctx)

	conn.push(`not json at all`)

	require.Eventually(t, func() bool {
		return len(conn.outboundTagged("Error")) > 0
	}, time.Second, 5*time.Millisecond)

	conn.Close()
}

func TestReadPump_SendsSyntheticGoodbyeOnClose(t *testing.T) {
	r, stop := startTestRoom(t)
	defer stop()

	userID := r.GetUserID(context.Background(), "cookie-c")
	connA := &fakeConn{}
	sessA := NewSession(connA, r, userID, "cookie-c")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sessA.WritePump(ctx)

	readDone := make(chan struct{})
	go func() {
		sessA.ReadPump(context.Background())
		close(readDone)
	}()

	connA.push(`{"Hello":{"name":"Carol","avatar":0,"time":0}}`)
	require.Eventually(t, func() bool {
		return len(connA.outboundTagged("RoomState")) > 0
	}, time.Second, 5*time.Millisecond)

	connB := &fakeConn{}
	defer connB.Close()
	otherID := r.GetUserID(context.Background(), "cookie-d")
	sessB := NewSession(connB, r, otherID, "cookie-d")
	go sessB.WritePump(ctx)
	go sessB.ReadPump(ctx)

	// Carol, already in the room, is told that Dave joined.
	connB.push(`{"Hello":{"name":"Dave","avatar":0,"time":0}}`)
	require.Eventually(t, func() bool {
		return len(connA.outboundTagged("NewParticipant")) > 0
	}, time.Second, 5*time.Millisecond)

	connA.Close()
	<-readDone

	require.Eventually(t, func() bool {
		return len(connB.outboundTagged("ByeParticipant")) > 0
	}, time.Second, 5*time.Millisecond)
}
