package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/sync-server/internal/v1/types"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestNewService_Connects(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer svc.Close()

	assert.NotNil(t, svc.Client())
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestPublishSubscribe_DeliversAcrossInstances(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	svc.Subscribe(ctx, types.RoomCode("room-1"), "instance-b", func(data []byte) {
		received <- data
	})

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, svc.Publish(ctx, "room-1", "instance-a", []byte(`{"hello":"world"}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"hello":"world"}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed message")
	}
}

func TestSubscribe_DiscardsOwnEcho(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	svc.Subscribe(ctx, types.RoomCode("room-1"), "instance-a", func(data []byte) {
		received <- data
	})

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, svc.Publish(ctx, "room-1", "instance-a", []byte(`{"a":1}`)))

	select {
	case <-received:
		t.Fatal("should not have received our own echo")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_GracefulWhenRedisIsDown(t *testing.T) {
	svc, mr := newTestService(t)
	mr.Close()
	defer svc.Close()

	err := svc.Publish(context.Background(), "room-1", "instance-a", []byte(`{}`))
	assert.Error(t, err)
}

func TestPublish_NilServiceIsNoop(t *testing.T) {
	var svc *Service
	assert.NoError(t, svc.Publish(context.Background(), "room-1", "instance-a", []byte(`{}`)))
	svc.Subscribe(context.Background(), "room-1", "instance-a", func([]byte) {})
	assert.NoError(t, svc.Close())
}
