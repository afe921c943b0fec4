// Package middleware contains Gin middleware shared across the engine's
// HTTP and WebSocket upgrade endpoints.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/watchroom/sync-server/internal/v1/logging"
)

// HeaderXCorrelationID is the header key carrying the request's correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID attaches a correlation ID to the request, reusing an
// inbound X-Correlation-ID header if present and generating one otherwise.
// It is echoed back on the response and stashed in the Gin context so log
// lines for this request can be tied together.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(string(logging.CorrelationIDKey), correlationID)

		c.Next()
	}
}
