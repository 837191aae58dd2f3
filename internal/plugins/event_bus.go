package plugins

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/wharfd/wharfd/internal/logger"
)

// EventHandler handles a worker lifecycle event. data is one of
// WorkerSpawnedEvent, WorkerEvictedEvent, or WorkerTerminatedEvent.
type EventHandler func(data any) error

// EventBus distributes worker lifecycle events (spawned/evicted/terminated)
// to subscribing plugins. It always fans out in-process; if a NATS
// connection is attached via WithNATS, it also publishes to a subject per
// event type so other processes (or other instances of this one) observe
// the same lifecycle. Events reach subscribers only through explicit Emit
// calls; the worker pool does not emit them.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	nc          *nats.Conn
}

type subscription struct {
	pluginName string
	handler    EventHandler
}

// Event type names used as both map keys and NATS subjects.
const (
	EventWorkerSpawned    = "worker.spawned"
	EventWorkerEvicted    = "worker.evicted"
	EventWorkerTerminated = "worker.terminated"
)

// WorkerSpawnedEvent is the EventWorkerSpawned payload: a new worker handle
// was spawned.
type WorkerSpawnedEvent struct {
	AppDir            string `json:"appDir"`
	ConfigFingerprint string `json:"configFingerprint"`
}

// WorkerEvictedEvent is the EventWorkerEvicted payload: the pool's LRU
// evicted a handle to make room for another.
type WorkerEvictedEvent struct {
	AppDir string `json:"appDir"`
	Reason string `json:"reason"`
}

// WorkerTerminatedEvent is the EventWorkerTerminated payload: a handle was
// torn down, whether by eviction, TTL expiry, idle sweep, or shutdown.
type WorkerTerminatedEvent struct {
	AppDir string `json:"appDir"`
	Reason string `json:"reason"`
}

// NewEventBus creates an in-process-only event bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]subscription)}
}

// WithNATS attaches a NATS connection; published events are mirrored to
// subject "wharfd.events.<eventType>" as JSON.
func (bus *EventBus) WithNATS(nc *nats.Conn) *EventBus {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nc = nc
	return bus
}

// Subscribe registers a handler for an event type under a plugin name, used
// for UnsubscribeAll bookkeeping.
func (bus *EventBus) Subscribe(eventType, pluginName string, handler EventHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subscribers[eventType] = append(bus.subscribers[eventType], subscription{pluginName, handler})
}

// UnsubscribeAll removes every handler registered by pluginName, across all
// event types. Called during plugin shutdown.
func (bus *EventBus) UnsubscribeAll(pluginName string) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for eventType, subs := range bus.subscribers {
		kept := subs[:0]
		for _, s := range subs {
			if s.pluginName != pluginName {
				kept = append(kept, s)
			}
		}
		bus.subscribers[eventType] = kept
	}
}

// Emit publishes an event to in-process subscribers asynchronously, and to
// NATS (if attached) synchronously before returning.
func (bus *EventBus) Emit(eventType string, data any) {
	bus.mu.RLock()
	handlers := append([]subscription(nil), bus.subscribers[eventType]...)
	nc := bus.nc
	bus.mu.RUnlock()

	log := logger.Plugins()

	if nc != nil {
		if payload, err := json.Marshal(data); err != nil {
			log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event for NATS")
		} else if err := nc.Publish(fmt.Sprintf("wharfd.events.%s", eventType), payload); err != nil {
			log.Warn().Err(err).Str("event", eventType).Msg("failed to publish event to NATS")
		}
	}

	var wg sync.WaitGroup
	for _, s := range handlers {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Warn().Str("plugin", s.pluginName).Str("event", eventType).Interface("panic", r).Msg("event handler panicked")
				}
			}()
			if err := s.handler(data); err != nil {
				log.Warn().Err(err).Str("plugin", s.pluginName).Str("event", eventType).Msg("event handler failed")
			}
		}(s)
	}
	// Deliberately not waited on: a slow subscriber must not block the pool
	// operation that triggered the event.
	_ = wg
}
