// Package persistence provides the storage layer for finished executions and exported files.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/deckflow/pkg/models"
)

type Persistence interface {
	SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// ExecutionsByUser returns the newest executions of a user first. A non-positive limit means no limit.
	ExecutionsByUser(ctx context.Context, userID string, limit int) ([]*models.WorkflowExecution, error)
	// DeleteExecutionsBefore removes executions completed before the cutoff together with their artifacts.
	DeleteExecutionsBefore(ctx context.Context, before time.Time) (int, error)

	SaveArtifact(ctx context.Context, artifact *models.Artifact) error
	Artifact(ctx context.Context, executionID, name string) (*models.Artifact, error)
	// Artifacts lists the artifacts of an execution without their data.
	Artifacts(ctx context.Context, executionID string) ([]*models.Artifact, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
