// Package eventbus publishes generation lifecycle events to a message broker.
package eventbus

import (
	"context"

	"github.com/dukex/deckflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// newEvent allocates the concrete event for eventType, or nil when the type is unknown.
func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.GenerationStartedEvent:
		return &events.GenerationStarted{}
	case events.GenerationCompletedEvent:
		return &events.GenerationCompleted{}
	case events.GenerationFailedEvent:
		return &events.GenerationFailed{}
	case events.GenerationCancelledEvent:
		return &events.GenerationCancelled{}
	case events.StageCompletedEvent:
		return &events.StageCompleted{}
	case events.StageFailedEvent:
		return &events.StageFailed{}
	default:
		return nil
	}
}
