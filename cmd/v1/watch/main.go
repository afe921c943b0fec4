// Command watch runs the synchronized watch-room sync server: it validates
// its environment, wires the Registry/bus/rate-limiter, and serves the
// WebSocket upgrade endpoint plus health and metrics over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/watchroom/sync-server/internal/v1/bus"
	"github.com/watchroom/sync-server/internal/v1/config"
	"github.com/watchroom/sync-server/internal/v1/health"
	"github.com/watchroom/sync-server/internal/v1/logging"
	"github.com/watchroom/sync-server/internal/v1/middleware"
	"github.com/watchroom/sync-server/internal/v1/ratelimit"
	"github.com/watchroom/sync-server/internal/v1/room"
	"github.com/watchroom/sync-server/internal/v1/transport"
)

func main() {
	for _, path := range []string{".env", "../../../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		println("environment validation failed: " + err.Error())
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		println("failed to initialize logging: " + err.Error())
		os.Exit(1)
	}

	instanceID := uuid.New().String()

	var redisClient *redis.Client
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(nil, "failed to connect to redis", zap.Error(err))
		}
		redisClient = busService.Client()
		logging.Info(nil, "redis bus enabled", zap.String("addr", cfg.RedisAddr))
	}

	registryOpts := []room.RegistryOption{
		room.WithRegistryPingInterval(cfg.PingInterval),
		room.WithRegistryCleanupGrace(cfg.CleanupGrace),
	}
	if busService != nil {
		registryOpts = append(registryOpts, room.WithRegistryBus(busService, instanceID))
	}
	registry := room.NewRegistry(registryOpts...)

	limiter, err := ratelimit.New(cfg.RateLimitUpgrade, redisClient)
	if err != nil {
		logging.Fatal(nil, "failed to construct rate limiter", zap.Error(err))
	}

	hub := transport.NewHub(registry, limiter, cfg.CookieName, cfg.AllowedOrigins)
	healthHandler := health.NewHandler(busService)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/websocket/:code", hub.ServeWs)
	router.POST("/rooms", hub.CreateRoom)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(nil, "sync server starting", zap.String("port", cfg.Port), zap.String("instance_id", instanceID))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(nil, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(nil, "shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error(nil, "server forced to shutdown", zap.Error(err))
	}
	if err := registry.Shutdown(ctx); err != nil {
		logging.Error(nil, "registry shutdown incomplete", zap.Error(err))
	}
	if busService != nil {
		if err := busService.Close(); err != nil {
			logging.Error(nil, "failed to close redis bus", zap.Error(err))
		}
	}

	logging.Info(nil, "sync server exiting")
}
