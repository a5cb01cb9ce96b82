// Package eventbus abstracts the message broker carrying automation and
// execution lifecycle events between the ingest surfaces and the workers.
package eventbus

import (
	"context"

	"github.com/convoflow/convoflow/pkg/events"
)

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	// Handle registers a handler for an event type. Handlers must be
	// registered before Subscribe is called.
	Handle(eventType events.EventType, handler EventHandler) error
	// Publish sends an event keyed by a partitioning key (usually the
	// conversation ID so per-conversation ordering is preserved).
	Publish(ctx context.Context, key string, event events.Event) error
	Subscribe(ctx context.Context) error
	Close() error
	GenerateID() string
}
