// Package ratelimit rate-limits the WebSocket upgrade endpoint using
// ulule/limiter, backed by Redis when available or an in-memory store in
// single-process mode.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/watchroom/sync-server/internal/v1/logging"
	"github.com/watchroom/sync-server/internal/v1/metrics"
)

// Limiter enforces a per-IP request rate on the upgrade endpoint.
type Limiter struct {
	upgrade *limiter.Limiter
}

// New builds a Limiter. rate is a ulule/limiter formatted rate (e.g.
// "20-M"). If redisClient is nil, requests are rate-limited against a
// process-local memory store instead.
func New(rate string, redisClient *redis.Client) (*Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q: %w", rate, err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "watchroom:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("create redis limiter store: %w", err)
		}
		store = s
		logging.Info(nil, "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(nil, "rate limiter using memory store (redis disabled)")
	}

	return &Limiter{upgrade: limiter.New(store, parsed)}, nil
}

// Allow checks and consumes one token for c.ClientIP(), writing
// X-RateLimit-* headers on c. It returns false (and has already written a
// 429 response) when the limit is exceeded.
func (l *Limiter) Allow(c *gin.Context) bool {
	ctx := c.Request.Context()
	key := c.ClientIP()

	result, err := l.upgrade.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed, failing open", zap.Error(err))
		return true
	}

	c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset, 10))

	if result.Reached {
		metrics.RateLimitExceededTotal.WithLabelValues("websocket_upgrade").Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "too many connection attempts",
			"retry_after": result.Reset,
		})
		return false
	}

	return true
}
