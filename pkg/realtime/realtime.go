// Package realtime fans out package upsert events to in-process listeners
// such as WebSocket sessions. Delivery is best effort: a listener that
// cannot keep up loses events instead of backpressuring ingestion.
package realtime

import (
	"sync"
	"time"
)

// PackageEvent represents a single indexed package delivered over the hub.
// It mirrors the summary fields of the stored record.
type PackageEvent struct {
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	Platform   string    `json:"platform"`
	Updated    time.Time `json:"updated"`
	Latest     string    `json:"latest,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
}

// InternalEvent is the hub's envelope allowing future introduction of
// additional event kinds (heartbeat, info, etc.) without changing channel
// element types. For now only Type == "package" is produced.
type InternalEvent struct {
	Type    string       `json:"type"`
	Package PackageEvent `json:"package"`
}

// FirehoseHub is an in-memory fan-out dispatcher. Each registered listener
// receives events via its own buffered channel. If a listener's channel
// buffer is full when an event arrives, that event is dropped for that
// listener only, so a single slow consumer never degrades ingestion.
//
// The hub is concurrency-safe.
type FirehoseHub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan InternalEvent
	nextID    uint64
	bufSize   int
}

// NewFirehoseHub constructs a new hub with per-listener buffer size.
// If bufSize <= 0, a default of 32 is used.
func NewFirehoseHub(bufSize int) *FirehoseHub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &FirehoseHub{
		listeners: make(map[uint64]chan InternalEvent),
		bufSize:   bufSize,
	}
}

// Register adds a new listener and returns (listenerID, receiveOnlyChannel).
// Callers must later Unregister(id) to release resources.
func (h *FirehoseHub) Register() (uint64, <-chan InternalEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan InternalEvent, h.bufSize)
	h.listeners[id] = ch
	return id, ch
}

// Unregister removes the listener with the given id and closes its channel.
// It is safe to call multiple times; unknown ids are ignored.
func (h *FirehoseHub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

// Broadcast delivers an event to all registered listeners (best effort).
// Accepted input types:
//   - InternalEvent
//   - PackageEvent (wrapped as InternalEvent{Type:"package"})
//
// Any other type is ignored silently.
func (h *FirehoseHub) Broadcast(event interface{}) {
	var ie InternalEvent
	switch v := event.(type) {
	case InternalEvent:
		ie = v
	case PackageEvent:
		ie = InternalEvent{Type: "package", Package: v}
	default:
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- ie:
		default:
			// Drop for slow listener.
		}
	}
}

// Size returns the current number of active listeners (approximate).
func (h *FirehoseHub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// WrapPackage produces an InternalEvent for a given PackageEvent.
func WrapPackage(ev PackageEvent) InternalEvent {
	return InternalEvent{
		Type:    "package",
		Package: ev,
	}
}
