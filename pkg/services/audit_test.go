package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/deckflow/pkg/channels/gochannel"
	"github.com/dukex/deckflow/pkg/eventbus"
	"github.com/dukex/deckflow/pkg/events"
	"github.com/dukex/deckflow/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudit_RecordsLifecycleEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	audit := services.NewAudit(testLogger())
	require.NoError(t, audit.Register(bus))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "session-1", events.GenerationStarted{
		BaseEvent: events.NewBaseEvent(events.GenerationStartedEvent, "session-1", "pres-1"),
		UserID:    "alice",
		Stages:    []string{"plan"},
	}))
	require.NoError(t, bus.Publish(ctx, "session-1", events.StageCompleted{
		BaseEvent: events.NewBaseEvent(events.StageCompletedEvent, "session-1", "pres-1"),
		Stage:     "plan",
		Attempt:   1,
	}))
	require.NoError(t, bus.Publish(ctx, "session-1", events.GenerationCompleted{
		BaseEvent:      events.NewBaseEvent(events.GenerationCompletedEvent, "session-1", "pres-1"),
		CompletedSteps: 1,
	}))

	assert.Eventually(t, func() bool {
		counts := audit.Counts()

		return counts[events.GenerationStartedEvent] == 1 &&
			counts[events.StageCompletedEvent] == 1 &&
			counts[events.GenerationCompletedEvent] == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, audit.Counts()[events.GenerationFailedEvent])
}
