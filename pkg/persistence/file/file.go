// Package file provides file-based persistence for executions and artifacts.
package file

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence"
)

var _ persistence.Persistence = (*Persistence)(nil)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root          string
	executionRepo *ExecutionRepository
	artifactRepo  *ArtifactRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		executionRepo: NewExecutionRepository(cleanRoot),
		artifactRepo:  NewArtifactRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks that the root directory exists and is a directory.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	info, err := os.Stat(fp.root)
	if err != nil {
		return fmt.Errorf("file persistence root unavailable: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("file persistence root %s is not a directory", fp.root)
	}

	return nil
}

func (fp *Persistence) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	return fp.executionRepo.Save(ctx, execution)
}

func (fp *Persistence) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return fp.executionRepo.GetByID(ctx, id)
}

func (fp *Persistence) ExecutionsByUser(ctx context.Context, userID string, limit int) ([]*models.WorkflowExecution, error) {
	return fp.executionRepo.GetByUser(ctx, userID, limit)
}

func (fp *Persistence) DeleteExecutionsBefore(ctx context.Context, before time.Time) (int, error) {
	ids, err := fp.executionRepo.DeleteBefore(ctx, before)
	if err != nil {
		return len(ids), err
	}

	for _, id := range ids {
		if err := fp.artifactRepo.DeleteAll(ctx, id); err != nil {
			return len(ids), err
		}
	}

	return len(ids), nil
}

func (fp *Persistence) SaveArtifact(ctx context.Context, artifact *models.Artifact) error {
	return fp.artifactRepo.Save(ctx, artifact)
}

func (fp *Persistence) Artifact(ctx context.Context, executionID, name string) (*models.Artifact, error) {
	return fp.artifactRepo.Get(ctx, executionID, name)
}

func (fp *Persistence) Artifacts(ctx context.Context, executionID string) ([]*models.Artifact, error) {
	return fp.artifactRepo.List(ctx, executionID)
}
