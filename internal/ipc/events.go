// Package ipc is the daemon's host-facing surface: a process-wide event
// stream and an HTTP command surface consumed by user-facing applets. It
// knows nothing about TLS sessions, discovery, or plugin internals — it
// only translates Backend calls and EventBus publications to and from JSON
// over a unix domain socket, the same shape as the reference daemon's own
// internal/api server.
package ipc

import (
	"log/slog"
	"sync"
)

// EventKind enumerates the events the daemon pushes to subscribed applets.
type EventKind string

const (
	EventDeviceAdded          EventKind = "device_added"
	EventDeviceRemoved        EventKind = "device_removed"
	EventDeviceStateChanged   EventKind = "device_state_changed"
	EventPairingRequest       EventKind = "pairing_request"
	EventPairingStatusChanged EventKind = "pairing_status_changed"
	EventPlugin               EventKind = "plugin_event"
)

// Event is one item on the event bus. DeviceID/Plugin/Payload are populated
// according to Kind; callers should not assume every field is set.
type Event struct {
	Kind     EventKind `json:"kind"`
	DeviceID string    `json:"deviceId,omitempty"`
	Plugin   string    `json:"plugin,omitempty"`
	Payload  any       `json:"payload,omitempty"`
}

// EventBus fans out daemon events to every subscribed applet. Each
// subscriber gets its own buffered channel so one slow reader never blocks
// another or the publisher.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

// NewEventBus builds an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe func the caller must run when done (e.g. on HTTP client
// disconnect).
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if ch, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Publish fans e out to every current subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking the publisher.
func (b *EventBus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			slog.Warn("ipc: subscriber event buffer full, dropping event", "subscriber", id, "kind", e.Kind)
		}
	}
}
