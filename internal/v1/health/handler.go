// Package health exposes liveness and readiness probes for the sync
// server's Kubernetes/process manager.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/watchroom/sync-server/internal/v1/bus"
	"github.com/watchroom/sync-server/internal/v1/logging"
)

// Handler manages health check endpoints.
type Handler struct {
	redisService *bus.Service
}

// NewHandler creates a health check handler. redisService may be nil when
// the process runs in single-instance mode (no Redis relay configured).
func NewHandler(redisService *bus.Service) *Handler {
	return &Handler{redisService: redisService}
}

// LivenessResponse is the liveness probe response body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe response body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. It returns 200 as long as the
// process is running; it never checks dependencies.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. It returns 200 only if every
// dependency check passes, and 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"redis": h.checkRedis(ctx)}

	status, code := "ready", http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status, code = "unavailable", http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}
	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
