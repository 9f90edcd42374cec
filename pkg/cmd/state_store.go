package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/deckflow/pkg/statestore"
	"github.com/dukex/deckflow/pkg/statestore/memory"
	"github.com/dukex/deckflow/pkg/statestore/redis"
)

// NewStateStore returns the in-memory store for an empty or "memory" URL and the Redis store
// for redis:// and rediss:// URLs.
func NewStateStore(ctx context.Context, logger *slog.Logger, url string, ttl time.Duration) (statestore.Store, error) {
	switch {
	case url == "" || url == "memory":
		return memory.NewStore(ttl), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		store, err := redis.NewStore(ctx, logger, url, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis state store: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unsupported state store URL: %s", url)
	}
}
