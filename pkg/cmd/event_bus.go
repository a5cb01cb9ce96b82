// Package cmd builds the concrete infrastructure the binaries share from
// their configuration: event bus, persistence, kv store.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/convoflow/convoflow/pkg/channels/kafka"
	"github.com/convoflow/convoflow/pkg/eventbus"
)

// NewEventBus creates an event bus for the given provider. "kafka" needs a
// broker list; "memory" wires a process-local channel for single-binary runs.
func NewEventBus(provider, brokers, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName, brokers)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "memory":
		channel := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger))

		return eventbus.NewWatermillEventBus(channel, channel), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
