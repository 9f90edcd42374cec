package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/deckflow/pkg/channels/gochannel"
	"github.com/dukex/deckflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan *events.StageFailed, 1)

	require.NoError(t, bus.Handle(events.StageFailedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.StageFailed)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "session-1", events.StageFailed{
		BaseEvent: events.NewBaseEvent(events.StageFailedEvent, "session-1", "pres-1"),
		Stage:     "plan",
		Attempt:   1,
		Kind:      "stage_failed",
		Errors:    []string{"boom"},
	})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "plan", got.Stage)
		assert.Equal(t, "session-1", got.SessionID)
		assert.Equal(t, []string{"boom"}, got.Errors)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan any, 2)

	require.NoError(t, bus.Handle(events.GenerationCompletedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "s", events.StageCompleted{
		BaseEvent: events.NewBaseEvent(events.StageCompletedEvent, "s", "p"),
		Stage:     "research",
	}))
	require.NoError(t, bus.Publish(ctx, "s", events.GenerationCompleted{
		BaseEvent:   events.NewBaseEvent(events.GenerationCompletedEvent, "s", "p"),
		ExecutionID: "exec-1",
	}))

	select {
	case got := <-received:
		completed, ok := got.(*events.GenerationCompleted)
		require.True(t, ok)
		assert.Equal(t, "exec-1", completed.ExecutionID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	assert.Empty(t, received)
}

func TestNewEvent_UnknownType(t *testing.T) {
	t.Parallel()

	assert.Nil(t, newEvent("unknown.type"))
	assert.IsType(t, &events.GenerationStarted{}, newEvent(events.GenerationStartedEvent))
}
