package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sync"

	"github.com/watchroom/sync-server/internal/v1/logging"
	"github.com/watchroom/sync-server/internal/v1/metrics"
	"github.com/watchroom/sync-server/internal/v1/types"
)

// DefaultCleanupGrace is how long an emptied room is kept around before its
// actor is torn down, so a participant reconnecting moments later (a page
// refresh, a flaky network) rejoins the same Room rather than a fresh one.
const DefaultCleanupGrace = 30 * time.Second

// Registry is the only concurrently-accessed structure in the engine:
// every Room itself is single-writer, but many transport goroutines look a
// Room up or create one at the same time, so Registry is mutex-guarded.
type Registry struct {
	mu             sync.Mutex
	rooms          map[types.RoomCode]*Room
	cancels        map[types.RoomCode]context.CancelFunc
	pendingCleanup map[types.RoomCode]*time.Timer

	bus          types.BusService
	instanceID   string
	pingInterval time.Duration
	cleanupGrace time.Duration

	// rootCtx governs every Room's lifetime. It is independent of any
	// single request's context, since a Room must outlive the connection
	// that created it.
	rootCtx context.Context
	cancel  context.CancelFunc
}

// RegistryOption configures a Registry at construction time.
type RegistryOption func(*Registry)

// WithRegistryBus propagates a bus to every Room the Registry creates.
func WithRegistryBus(bus types.BusService, instanceID string) RegistryOption {
	return func(reg *Registry) {
		reg.bus = bus
		reg.instanceID = instanceID
	}
}

// WithRegistryPingInterval propagates a Ping Driver interval to every Room
// the Registry creates.
func WithRegistryPingInterval(d time.Duration) RegistryOption {
	return func(reg *Registry) { reg.pingInterval = d }
}

// WithRegistryCleanupGrace overrides DefaultCleanupGrace.
func WithRegistryCleanupGrace(d time.Duration) RegistryOption {
	return func(reg *Registry) { reg.cleanupGrace = d }
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	reg := &Registry{
		rooms:          make(map[types.RoomCode]*Room),
		cancels:        make(map[types.RoomCode]context.CancelFunc),
		pendingCleanup: make(map[types.RoomCode]*time.Timer),
		pingInterval:   DefaultPingInterval,
		cleanupGrace:   DefaultCleanupGrace,
	}
	for _, opt := range opts {
		opt(reg)
	}
	reg.rootCtx, reg.cancel = context.WithCancel(context.Background())
	return reg
}

// Find returns the Room for code, if one currently exists.
func (reg *Registry) Find(code types.RoomCode) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[code]
	return r, ok
}

// GetOrCreate returns the existing Room for code, or constructs and starts
// a new one with the given name/stream. name and stream are ignored when
// the room already exists. Any pending cleanup timer for code is cancelled,
// since a new connection means the room is no longer empty.
func (reg *Registry) GetOrCreate(code types.RoomCode, name string, stream *types.MediaStream) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[code]; ok {
		if timer, pending := reg.pendingCleanup[code]; pending {
			timer.Stop()
			delete(reg.pendingCleanup, code)
		}
		return r
	}

	opts := []Option{WithPingInterval(reg.pingInterval)}
	if reg.bus != nil {
		opts = append(opts, WithBus(reg.bus, reg.instanceID))
	}

	r := New(code, name, stream, opts...)
	reg.rooms[code] = r
	metrics.ActiveRooms.Inc()

	roomCtx, cancel := context.WithCancel(reg.rootCtx)
	reg.cancels[code] = cancel
	go r.Run(roomCtx)

	return r
}

// ScheduleCleanup starts a grace-period timer that removes code from the
// registry if it is still present when the timer fires. Called by the
// transport layer once a room's last session disconnects.
func (reg *Registry) ScheduleCleanup(code types.RoomCode, isEmpty func() bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.pendingCleanup[code]; ok {
		existing.Stop()
	}

	reg.pendingCleanup[code] = time.AfterFunc(reg.cleanupGrace, func() {
		reg.mu.Lock()
		defer reg.mu.Unlock()

		delete(reg.pendingCleanup, code)
		_, ok := reg.rooms[code]
		if !ok {
			return
		}
		if isEmpty != nil && !isEmpty() {
			return
		}

		if cancel, ok := reg.cancels[code]; ok {
			cancel()
			delete(reg.cancels, code)
		}
		delete(reg.rooms, code)
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(string(code))
		logging.Info(context.Background(), "removed empty room from registry", zap.String("room_code", string(code)))
	})
}

// Shutdown cancels every Room's context and waits (up to ctx's deadline)
// for all of them to finish.
func (reg *Registry) Shutdown(ctx context.Context) error {
	reg.mu.Lock()
	for _, timer := range reg.pendingCleanup {
		timer.Stop()
	}
	reg.pendingCleanup = make(map[types.RoomCode]*time.Timer)

	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	reg.cancel()

	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
