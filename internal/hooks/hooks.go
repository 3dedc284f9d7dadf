// Package hooks dispatches bot lifecycle events to registered handlers.
package hooks

import (
	"context"
	"slices"
	"sync"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

// Event names for the hook system.
const (
	EventMessageReceived = "message_received"
	EventMessageSending  = "message_sending"
	EventSessionState    = "session_state"
	EventEscalation      = "escalation"
	EventAdminCommand    = "admin_command"
	EventGatewayStart    = "gateway_start"
	EventGatewayStop     = "gateway_stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventMessageReceived,
	EventMessageSending,
	EventSessionState,
	EventEscalation,
	EventAdminCommand,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// String returns Data[key] if it is a string.
func (p Payload) String(key string) string {
	s, _ := p.Data[key].(string)
	return s
}

// Handler handles a hook event. Returning an error logs the failure but
// does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event under a name used by Off and
// in logs.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = slices.DeleteFunc(slices.Clone(m.handlers[event]), func(h namedHandler) bool {
		return h.name == name
	})
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handlers[event])
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg("hook handler error")
	}
}

// Emit dispatches an event to all handlers synchronously, in registration
// order. A nil manager is a no-op.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	p := Payload{Event: event, Data: data}
	for _, h := range m.snapshot(event) {
		m.call(ctx, h, p)
	}
}

// EmitAsync dispatches an event to all handlers concurrently and returns
// immediately. A nil manager is a no-op.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	p := Payload{Event: event, Data: data}
	for _, h := range m.snapshot(event) {
		go m.call(ctx, h, p)
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the sorted events that have at least one handler.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	slices.Sort(events)
	return events
}
