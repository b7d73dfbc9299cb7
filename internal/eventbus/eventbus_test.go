package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInProcessPublishSubscribe(t *testing.T) {
	bus := NewInProcess(4)
	received := make(chan Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bus.Subscribe(ctx, func(ev Event) { received <- ev })

	require.NoError(t, bus.Publish(ctx, Event{Type: DeploymentStarted, DeploymentID: "d-1"}))
	select {
	case ev := <-received:
		require.Equal(t, "d-1", ev.DeploymentID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func newTestRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisBus(rdb, zap.NewNop()), mr
}

func TestRedisBusPublishSubscribe(t *testing.T) {
	bus, _ := newTestRedisBus(t)
	received := make(chan Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bus.Subscribe(ctx, func(ev Event) { received <- ev })

	require.NoError(t, bus.Publish(context.Background(), Event{Type: DeploymentCompleted, DeploymentID: "d-2"}))
	select {
	case ev := <-received:
		require.Equal(t, "d-2", ev.DeploymentID)
		require.Equal(t, DeploymentCompleted, ev.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
