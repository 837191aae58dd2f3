package plugins

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmitDeliversToSubscriber(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	var got *WorkerSpawnedEvent

	bus.Subscribe(EventWorkerSpawned, "metrics", func(data any) error {
		mu.Lock()
		defer mu.Unlock()
		evt := data.(WorkerSpawnedEvent)
		got = &evt
		return nil
	})

	bus.Emit(EventWorkerSpawned, WorkerSpawnedEvent{AppDir: "/apps/a", ConfigFingerprint: "abc"})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/apps/a", got.AppDir)
}

func TestUnsubscribeAllStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	var called int32
	bus.Subscribe(EventWorkerEvicted, "metrics", func(data any) error {
		called = 1
		return nil
	})
	bus.UnsubscribeAll("metrics")
	bus.Emit(EventWorkerEvicted, WorkerEvictedEvent{AppDir: "/apps/a"})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), called)
}

func TestEmitRecoversHandlerPanic(t *testing.T) {
	bus := NewEventBus()
	var ranSecond int32
	bus.Subscribe(EventWorkerTerminated, "bad", func(data any) error {
		panic("boom")
	})
	bus.Subscribe(EventWorkerTerminated, "good", func(data any) error {
		ranSecond = 1
		return nil
	})

	assert.NotPanics(t, func() {
		bus.Emit(EventWorkerTerminated, WorkerTerminatedEvent{AppDir: "/apps/a"})
	})

	assert.Eventually(t, func() bool {
		return ranSecond == 1
	}, time.Second, 5*time.Millisecond)
}
