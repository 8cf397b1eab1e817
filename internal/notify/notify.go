// Package notify emits fire-and-forget notification events for the packaging
// and publishing pipelines. Delivery failures are logged by callers, never
// propagated into queue transitions.
package notify

import (
	"context"
	"sync"
)

// Event is one notification with a template id and its personalisation
// payload (envelope id, transaction counts, links).
type Event struct {
	TemplateID      string            `json:"template_id"`
	Personalisation map[string]string `json:"personalisation"`
}

// Notifier delivers notification events.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// Nop discards every event. Used when notifications are disabled.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

// Memory records events for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory constructs an empty recording notifier.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Send(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything sent so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
