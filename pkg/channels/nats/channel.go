// Package nats opens the NATS connection used by the NATS event bus.
package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultURL = nats.DefaultURL

// Connect dials url, retrying while the server comes up.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if url == "" {
		url = DefaultURL
	}

	nc, err := nats.Connect(url,
		nats.Name("deckflow"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return nc, nil
}
