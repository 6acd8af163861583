// Package events provides the observable event stream emitted by the
// connection manager and permission engine. The bus is an explicit,
// injectable instance so tests and embedders can construct isolated
// cores; there is no package-level listener registry.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of an emitted event.
type Type string

const (
	TypeStateChange              Type = "stateChange"
	TypePermissionRequest        Type = "permissionRequest"
	TypePermissionExpiringSoon   Type = "permissionExpiringSoon"
	TypePermissionRevoked        Type = "permissionRevoked"
	TypePermissionsChanged       Type = "permissionsChanged"
	TypeSessionPermissionsCleared Type = "sessionPermissionsCleared"
	TypeSettingsUpdated          Type = "settingsUpdated"
	TypeTrustedServerAdded       Type = "trustedServerAdded"
	TypeTrustedServerRemoved     Type = "trustedServerRemoved"
)

// Event is a single entry in the stream. Server and Tool are set when
// the event concerns one; Payload carries the type-specific value (a
// connection state, a pending approval, a grant, or settings).
type Event struct {
	Type    Type
	Server  string
	Tool    string
	Payload any
	At      time.Time
}

// Handler receives events. Handlers run synchronously on the emitting
// goroutine and must not block.
type Handler func(Event)

// Bus fans events out to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	closed   bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns a function that removes it.
// Subscribing to a closed bus is a no-op.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || h == nil {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to every subscribed handler. A panicking
// handler is isolated so the remaining listeners still run.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() { _ = recover() }()
			h(e)
		}()
	}
}

// Close detaches every listener. Subsequent publishes reach nobody and
// subsequent subscribes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	b.handlers = make(map[int]Handler)
	b.closed = true
	b.mu.Unlock()
}

// HandlerCount returns the number of attached listeners.
func (b *Bus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
