package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/sync-server/internal/v1/room"
)

func newTestHub(t *testing.T) (*Hub, *room.Registry, func()) {
	t.Helper()
	reg := room.NewRegistry(room.WithRegistryPingInterval(time.Hour))
	hub := NewHub(reg, nil, "watchroom_id", []string{"http://allowed.example.com"})
	return hub, reg, func() {
		_ = reg.Shutdown(context.Background())
	}
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/websocket/:code", hub.ServeWs)
	r.POST("/rooms", hub.CreateRoom)
	return httptest.NewServer(r)
}

func TestServeWs_404WhenRoomMissing(t *testing.T) {
	hub, _, stop := newTestHub(t)
	defer stop()
	srv := newTestServer(t, hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/websocket/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeWs_UpgradesWhenRoomExists(t *testing.T) {
	hub, reg, stop := newTestHub(t)
	defer stop()
	reg.GetOrCreate("movie-night", "Movie Night", nil)

	srv := newTestServer(t, hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/websocket/movie-night"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Hello":{"name":"Eve","avatar":0,"time":0}}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "RoomState")
}

func TestServeWs_RejectsDisallowedOrigin(t *testing.T) {
	hub, reg, stop := newTestHub(t)
	defer stop()
	reg.GetOrCreate("movie-night", "Movie Night", nil)

	srv := newTestServer(t, hub)
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/websocket/movie-night", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCreateRoom_SeedsRegistry(t *testing.T) {
	hub, reg, stop := newTestHub(t)
	defer stop()
	srv := newTestServer(t, hub)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rooms", "application/json", strings.NewReader(`{"code":"abc","name":"Test"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	_, ok := reg.Find("abc")
	assert.True(t, ok)
}

func TestServeWs_SchedulesCleanupOnDisconnect(t *testing.T) {
	reg := room.NewRegistry(room.WithRegistryPingInterval(time.Hour), room.WithRegistryCleanupGrace(20*time.Millisecond))
	hub := NewHub(reg, nil, "watchroom_id", nil)
	defer func() { _ = reg.Shutdown(context.Background()) }()
	reg.GetOrCreate("movie-night", "Movie Night", nil)

	srv := newTestServer(t, hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/websocket/movie-night"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		_, ok := reg.Find("movie-night")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
