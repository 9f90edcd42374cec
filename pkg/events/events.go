// Package events defines the notifications published over the course of a generation run.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every generation event.
const Topic = "deckflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	GenerationStartedEvent   EventType = "generation.started"
	GenerationCompletedEvent EventType = "generation.completed"
	GenerationFailedEvent    EventType = "generation.failed"
	GenerationCancelledEvent EventType = "generation.cancelled"

	StageCompletedEvent EventType = "stage.completed"
	StageFailedEvent    EventType = "stage.failed"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	SessionID      string         `json:"session_id"`
	PresentationID string         `json:"presentation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type GenerationStarted struct {
	BaseEvent

	UserID       string         `json:"user_id"`
	Requirements map[string]any `json:"requirements,omitempty"`
	Stages       []string       `json:"stages"`
}

func (e GenerationStarted) GetType() EventType {
	return GenerationStartedEvent
}

type GenerationCompleted struct {
	BaseEvent

	ExecutionID    string  `json:"execution_id"`
	CompletedSteps int     `json:"completed_steps"`
	DurationSecs   float64 `json:"duration_seconds"`
}

func (e GenerationCompleted) GetType() EventType {
	return GenerationCompletedEvent
}

type GenerationFailed struct {
	BaseEvent

	ExecutionID    string   `json:"execution_id"`
	CompletedSteps int      `json:"completed_steps"`
	Errors         []string `json:"errors"`
	Code           string   `json:"code,omitempty"`
	DurationSecs   float64  `json:"duration_seconds"`
}

func (e GenerationFailed) GetType() EventType {
	return GenerationFailedEvent
}

type GenerationCancelled struct {
	BaseEvent

	PendingStage   string `json:"pending_stage"`
	CompletedSteps int    `json:"completed_steps"`
}

func (e GenerationCancelled) GetType() EventType {
	return GenerationCancelledEvent
}

type StageCompleted struct {
	BaseEvent

	Stage        string   `json:"stage"`
	Attempt      int      `json:"attempt"`
	DurationSecs float64  `json:"duration_seconds"`
	Messages     []string `json:"messages,omitempty"`
}

func (e StageCompleted) GetType() EventType {
	return StageCompletedEvent
}

type StageFailed struct {
	BaseEvent

	Stage        string   `json:"stage"`
	Attempt      int      `json:"attempt"`
	Kind         string   `json:"kind"`
	Errors       []string `json:"errors"`
	DurationSecs float64  `json:"duration_seconds"`
}

func (e StageFailed) GetType() EventType {
	return StageFailedEvent
}

func NewBaseEvent(eventType EventType, sessionID, presentationID string) BaseEvent {
	return BaseEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		SessionID:      sessionID,
		PresentationID: presentationID,
		Metadata:       make(map[string]any),
	}
}
