package manager

import "time"

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
//
// Names: ensure_start, ensure_ready, ensure_error, ensure_model_not_found,
// ensure_budget_fail, evict, unload_start, unload_timeout, unload_done,
// switch_start, switch_done.
type Event struct {
	Name    string
	ModelID string
	Time    time.Time
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
