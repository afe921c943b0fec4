package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/sync-server/internal/v1/types"
)

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	reg := NewRegistry(WithRegistryPingInterval(time.Hour))
	defer reg.Shutdown(context.Background())

	r1 := reg.GetOrCreate("abc", "movie night", nil)
	r2 := reg.GetOrCreate("abc", "ignored", nil)
	assert.Same(t, r1, r2)

	found, ok := reg.Find("abc")
	require.True(t, ok)
	assert.Same(t, r1, found)
}

func TestRegistry_FindMissing(t *testing.T) {
	reg := NewRegistry()
	defer reg.Shutdown(context.Background())

	_, ok := reg.Find("nope")
	assert.False(t, ok)
}

func TestRegistry_ScheduleCleanupRemovesEmptyRoom(t *testing.T) {
	reg := NewRegistry(WithRegistryPingInterval(time.Hour), WithRegistryCleanupGrace(10*time.Millisecond))
	defer reg.Shutdown(context.Background())

	reg.GetOrCreate("abc", "movie night", nil)
	reg.ScheduleCleanup("abc", func() bool { return true })

	require.Eventually(t, func() bool {
		_, ok := reg.Find("abc")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_ScheduleCleanupSkipsNonEmptyRoom(t *testing.T) {
	reg := NewRegistry(WithRegistryPingInterval(time.Hour), WithRegistryCleanupGrace(10*time.Millisecond))
	defer reg.Shutdown(context.Background())

	reg.GetOrCreate("abc", "movie night", nil)
	reg.ScheduleCleanup("abc", func() bool { return false })

	time.Sleep(50 * time.Millisecond)
	_, ok := reg.Find("abc")
	assert.True(t, ok)
}

func TestRegistry_ReconnectCancelsPendingCleanup(t *testing.T) {
	reg := NewRegistry(WithRegistryPingInterval(time.Hour), WithRegistryCleanupGrace(20*time.Millisecond))
	defer reg.Shutdown(context.Background())

	reg.GetOrCreate("abc", "movie night", nil)
	reg.ScheduleCleanup("abc", func() bool { return true })

	time.Sleep(5 * time.Millisecond)
	reg.GetOrCreate("abc", "movie night", nil) // reconnect before grace expires

	time.Sleep(30 * time.Millisecond)
	_, ok := reg.Find("abc")
	assert.True(t, ok)
}

func TestRegistry_ShutdownWaitsForRooms(t *testing.T) {
	reg := NewRegistry(WithRegistryPingInterval(time.Hour))
	r := reg.GetOrCreate("abc", "movie night", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	select {
	case <-r.Done():
	default:
		t.Fatal("room should be done after registry shutdown")
	}
}
