// Package events mirrors activity records onto a message broker so that
// downstream consumers (analytics, alerting) can react to them. The Mongo
// activity log remains the durability point; emission is best effort.
package events

import "context"

// Topic is the broker channel activity events are published on.
const Topic = "user-activity"

// Emitter publishes activity events to a broker backend.
type Emitter interface {
	Emit(ctx context.Context, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Bus wraps a backend with a stable API.
type Bus struct {
	backend Emitter
}

// NewBus constructs a Bus for the provided backend.
func NewBus(backend Emitter) *Bus {
	return &Bus{backend: backend}
}

// Emit publishes one event payload.
func (b *Bus) Emit(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	return b.backend.Emit(ctx, data, attrs)
}

// Close closes the underlying backend.
func (b *Bus) Close() error {
	return b.backend.Close()
}
