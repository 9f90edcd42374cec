package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/dukex/deckflow/pkg/eventbus"
	"github.com/dukex/deckflow/pkg/events"
)

var auditedEvents = []events.EventType{
	events.GenerationStartedEvent,
	events.GenerationCompletedEvent,
	events.GenerationFailedEvent,
	events.GenerationCancelledEvent,
	events.StageCompletedEvent,
	events.StageFailedEvent,
}

// Audit records every generation lifecycle event seen on the bus in the audit log.
type Audit struct {
	logger *slog.Logger

	mu     sync.Mutex
	counts map[events.EventType]int
}

func NewAudit(logger *slog.Logger) *Audit {
	return &Audit{
		logger: logger.With("module", "audit"),
		counts: make(map[events.EventType]int),
	}
}

// Register installs the audit handler for every lifecycle event type.
func (a *Audit) Register(bus eventbus.EventSubscriber) error {
	for _, eventType := range auditedEvents {
		if err := bus.Handle(eventType, a.handle); err != nil {
			return fmt.Errorf("failed to register audit handler for %s: %w", eventType, err)
		}
	}

	return nil
}

// Counts returns how many events of each type have been audited.
func (a *Audit) Counts() map[events.EventType]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return maps.Clone(a.counts)
}

func (a *Audit) handle(ctx context.Context, event any) error {
	var (
		base  events.BaseEvent
		attrs []any
	)

	switch e := event.(type) {
	case *events.GenerationStarted:
		base = e.BaseEvent
		attrs = []any{"user_id", e.UserID, "stages", len(e.Stages)}
	case *events.GenerationCompleted:
		base = e.BaseEvent
		attrs = []any{"completed_steps", e.CompletedSteps, "duration_seconds", e.DurationSecs}
	case *events.GenerationFailed:
		base = e.BaseEvent
		attrs = []any{"completed_steps", e.CompletedSteps, "errors", len(e.Errors), "code", e.Code}
	case *events.GenerationCancelled:
		base = e.BaseEvent
		attrs = []any{"pending_stage", e.PendingStage}
	case *events.StageCompleted:
		base = e.BaseEvent
		attrs = []any{"stage", e.Stage, "attempt", e.Attempt, "duration_seconds", e.DurationSecs}
	case *events.StageFailed:
		base = e.BaseEvent
		attrs = []any{"stage", e.Stage, "attempt", e.Attempt, "kind", e.Kind}
	default:
		return fmt.Errorf("unexpected audit event %T", event)
	}

	a.mu.Lock()
	a.counts[base.Type]++
	a.mu.Unlock()

	attrs = append([]any{"event_id", base.ID, "event_type", base.Type, "session_id", base.SessionID}, attrs...)
	a.logger.InfoContext(ctx, "Generation event", attrs...)

	return nil
}
