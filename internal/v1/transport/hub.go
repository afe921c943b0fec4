// Package transport is the HTTP front door: it upgrades a rate-limited,
// origin-checked request into a WebSocket bound to exactly one Room and
// UserID.
package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/watchroom/sync-server/internal/v1/identity"
	"github.com/watchroom/sync-server/internal/v1/logging"
	"github.com/watchroom/sync-server/internal/v1/metrics"
	"github.com/watchroom/sync-server/internal/v1/ratelimit"
	"github.com/watchroom/sync-server/internal/v1/room"
	"github.com/watchroom/sync-server/internal/v1/types"
)

var errOriginNotAllowed = errors.New("origin not allowed")

// Hub wires the Registry, identity cookie, and rate limiter into a single
// Gin handler for the upgrade endpoint.
type Hub struct {
	registry       *room.Registry
	limiter        *ratelimit.Limiter
	cookieName     string
	allowedOrigins []string
}

// NewHub constructs a Hub. limiter may be nil to disable rate limiting
// (development mode).
func NewHub(registry *room.Registry, limiter *ratelimit.Limiter, cookieName string, allowedOrigins []string) *Hub {
	return &Hub{
		registry:       registry,
		limiter:        limiter,
		cookieName:     cookieName,
		allowedOrigins: allowedOrigins,
	}
}

// ServeWs handles GET /websocket/:code. It returns 404 if the room does
// not exist, 429 if the caller is rate-limited, 403 if the
// Origin header isn't allow-listed, and otherwise upgrades the connection
// and starts the session's read/write pumps.
func (h *Hub) ServeWs(c *gin.Context) {
	code := types.RoomCode(c.Param("code"))

	if h.limiter != nil && !h.limiter.Allow(c) {
		return
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	r, ok := h.registry.Find(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	cookie := identity.Ensure(c, h.cookieName)
	userID := r.GetUserID(c.Request.Context(), cookie)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(req *http.Request) bool {
			return validateOrigin(req, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{New: func() any { return make([]byte, 4096) }},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err))
		return
	}

	sess := NewSession(conn, r, userID, cookie)
	metrics.IncConnection()

	ctx := context.Background()
	go sess.WritePump(ctx)
	sess.ReadPump(ctx)

	h.registry.ScheduleCleanup(code, func() bool { return r.IsEmpty(context.Background()) })
}

// CreateRoom handles POST /rooms, the thin catalog endpoint standing in
// for the lobby/creation page: something still has to seed the Registry a
// room code resolves to.
func (h *Hub) CreateRoom(c *gin.Context) {
	var body struct {
		Code string `json:"code" binding:"required"`
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	r := h.registry.GetOrCreate(types.RoomCode(body.Code), body.Name, nil)
	c.JSON(http.StatusCreated, gin.H{"code": r.Code()})
}

// validateOrigin checks the request's Origin header against an allow-list
// of scheme+host pairs. A missing Origin header is allowed through (a
// non-browser client, e.g. a CLI or test).
func validateOrigin(r *http.Request, allowed []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return err
	}

	for _, a := range allowed {
		allowedURL, err := url.Parse(a)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	return errOriginNotAllowed
}
