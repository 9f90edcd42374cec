package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/deckflow/pkg/events"
	"github.com/nats-io/nats.go"
)

// NATSEventBus publishes events as core NATS messages on the events subject.
type NATSEventBus struct {
	conn     *nats.Conn
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[events.EventType]EventHandler
	sub      *nats.Subscription
}

func NewNATSEventBus(conn *nats.Conn, logger *slog.Logger) *NATSEventBus {
	return &NATSEventBus{
		conn:     conn,
		logger:   logger.With("module", "nats-event-bus"),
		handlers: make(map[events.EventType]EventHandler),
	}
}

func (eb *NATSEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *NATSEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(events.Topic)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, "msg-"+eb.GenerateID())
	msg.Header.Set(events.EventMetadataKey, key)
	msg.Header.Set(events.EventTypeMetadataKey, string(event.GetType()))

	if err := eb.conn.PublishMsg(msg); err != nil {
		eb.logger.ErrorContext(ctx, "Failed to publish event", "error", err, "event_type", event.GetType())

		return err
	}

	return nil
}

func (eb *NATSEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = handler

	return nil
}

func (eb *NATSEventBus) Subscribe(ctx context.Context) error {
	sub, err := eb.conn.Subscribe(events.Topic, func(msg *nats.Msg) {
		eventType := events.EventType(msg.Header.Get(events.EventTypeMetadataKey))

		eb.mu.RLock()
		handler, ok := eb.handlers[eventType]
		eb.mu.RUnlock()

		if !ok {
			return
		}

		event := newEvent(eventType)
		if event == nil {
			return
		}

		if err := json.Unmarshal(msg.Data, event); err != nil {
			eb.logger.ErrorContext(ctx, "Failed to decode event", "error", err, "event_type", eventType)

			return
		}

		if err := handler(ctx, event); err != nil {
			eb.logger.ErrorContext(ctx, "Event handler failed", "error", err, "event_type", eventType)
		}
	})
	if err != nil {
		return err
	}

	eb.sub = sub

	return nil
}

func (eb *NATSEventBus) Close() error {
	if eb.sub != nil {
		if err := eb.sub.Unsubscribe(); err != nil {
			eb.logger.Error("Failed to unsubscribe", "error", err)
		}
	}

	return eb.conn.Drain()
}
