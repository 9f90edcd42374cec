// Package statestore keeps the live workflow state of in-flight runs so status and cancel
// requests can reach them from any process.
package statestore

import (
	"context"
	"errors"

	"github.com/dukex/deckflow/pkg/models"
)

var ErrSessionNotFound = errors.New("session not found")

// Store checkpoints workflow state between stages.
type Store interface {
	// Save records a copy of state under its session ID.
	Save(ctx context.Context, state *models.WorkflowState) error
	// Load returns the last checkpoint of a session, or ErrSessionNotFound.
	Load(ctx context.Context, sessionID string) (*models.WorkflowState, error)
	// RequestCancel flags the session so the run stops before its next stage.
	RequestCancel(ctx context.Context, sessionID string) error
	CancelRequested(ctx context.Context, sessionID string) (bool, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}
