// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/deckflow/pkg/channels/gochannel"
	"github.com/dukex/deckflow/pkg/channels/kafka"
	natschannel "github.com/dukex/deckflow/pkg/channels/nats"
	"github.com/dukex/deckflow/pkg/eventbus"
)

// NewEventBus opens the event bus for provider. url is the Kafka broker list or the NATS
// server address and is ignored by the in-process bus.
func NewEventBus(provider, url string, logger *slog.Logger) (eventbus.EventBus, error) {
	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), kafka.ParseBrokers(url), "deckflow")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "nats":
		conn, err := natschannel.Connect(url, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}

		return eventbus.NewNATSEventBus(conn, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
