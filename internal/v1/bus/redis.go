// Package bus implements types.BusService over Redis pub/sub, letting
// multiple server processes relay a Room's broadcasts to each other
// for multi-process deployment. A single process can run
// with bus == nil; Room behavior is then exactly the single-process
// model.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/watchroom/sync-server/internal/v1/logging"
	"github.com/watchroom/sync-server/internal/v1/metrics"
	"github.com/watchroom/sync-server/internal/v1/types"
)

// envelope is the wire format carried over Redis. SenderID is how a
// subscriber recognizes and discards its own echo.
type envelope struct {
	SenderID string          `json:"sender_id"`
	Payload  json.RawMessage `json:"payload"`
}

// Service is a types.BusService backed by a single Redis connection.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client (exposed for health checks).
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService dials Redis and verifies connectivity with a PING.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateHalfOpen:
				v = 1
			case gobreaker.StateOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(v)
		},
	}

	logging.Info(context.Background(), "connected to redis pub/sub")
	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func channelFor(code types.RoomCode) string {
	return fmt.Sprintf("watchroom:room:%s", code)
}

// Publish broadcasts data to every other instance subscribed to code.
func (s *Service) Publish(ctx context.Context, code types.RoomCode, instanceID string, data []byte) error {
	if s == nil || s.client == nil {
		return nil
	}

	start := time.Now()
	_, err := s.cb.Execute(func() (any, error) {
		env := envelope{SenderID: instanceID, Payload: data}
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("marshal bus envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, channelFor(code), raw).Err()
	})
	metrics.RedisOperationDuration.WithLabelValues("publish").Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.RedisOperationsTotal.WithLabelValues("publish", "breaker_open").Inc()
			logging.Warn(ctx, "redis circuit breaker open, dropping publish", zap.String("room_code", string(code)))
			return nil
		}
		metrics.RedisOperationsTotal.WithLabelValues("publish", "error").Inc()
		return err
	}
	metrics.RedisOperationsTotal.WithLabelValues("publish", "ok").Inc()
	return nil
}

// Subscribe starts a background listener for code and invokes handler for
// every message published by a different instanceID. It returns
// immediately; the listener runs until ctx is done.
func (s *Service) Subscribe(ctx context.Context, code types.RoomCode, instanceID string, handler func(data []byte)) {
	if s == nil || s.client == nil {
		return
	}

	channel := channelFor(code)
	pubsub := s.client.Subscribe(ctx, channel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logging.Warn(ctx, "failed to unmarshal bus envelope", zap.String("channel", channel))
					continue
				}
				if env.SenderID == instanceID {
					continue // echo of our own publish
				}
				handler(env.Payload)
			}
		}
	}()
}

// Ping checks Redis connectivity (used by the health package's readiness
// probe).
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
