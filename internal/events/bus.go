// Package events is the publish/subscribe channel between the recovery
// subsystem and UI observers. Event names are a public contract.
package events

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Name identifies a domain event.
type Name string

// Domain events.
const (
	RecoveryStarted           Name = "recovery-started"
	ForceRefresh              Name = "force-refresh"
	HideErrorBanner           Name = "hide-error-banner"
	DatabaseReady             Name = "database-ready"
	EmergencyRecoveryRequired Name = "emergency-recovery-required"
)

// Recovery actions offered with EmergencyRecoveryRequired.
const (
	ActionRestoreBackup     = "restore-backup"
	ActionExportDiagnostics = "export-diagnostics"
)

// EmergencyRecovery is the payload of EmergencyRecoveryRequired.
type EmergencyRecovery struct {
	Message string   `json:"message"`
	Actions []string `json:"actions"`
}

// NewEmergencyRecovery builds the payload with the standard manual actions.
func NewEmergencyRecovery(message string) EmergencyRecovery {
	return EmergencyRecovery{
		Message: message,
		Actions: []string{ActionRestoreBackup, ActionExportDiagnostics},
	}
}

// Event is one published occurrence.
type Event struct {
	Name      Name      `json:"name"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler observes events. Handlers run synchronously on the publisher's
// goroutine and must not block.
type Handler func(Event)

// Publisher is what components need to emit events.
type Publisher interface {
	Publish(name Name, payload any)
}

// Bus is an in-process Publisher. Observers of the same name are called in
// no particular order.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[Name]map[uint64]Handler
	all  map[uint64]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Name]map[uint64]Handler),
		all:  make(map[uint64]Handler),
	}
}

// Subscribe registers h for name and returns a function that unregisters it.
func (b *Bus) Subscribe(name Name, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	if b.subs[name] == nil {
		b.subs[name] = make(map[uint64]Handler)
	}
	b.subs[name][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[name], id)
		})
	}
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.all[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.all, id)
		})
	}
}

// Publish delivers an event to the current observers of name.
func (b *Bus) Publish(name Name, payload any) {
	ev := Event{Name: name, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[name])+len(b.all))
	for _, h := range b.subs[name] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	log.WithFields(log.Fields{"event": name, "observers": len(handlers)}).Debug("publishing event")
	for _, h := range handlers {
		h(ev)
	}
}
