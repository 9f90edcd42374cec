// Package postgresql provides PostgreSQL persistence for executions and artifacts.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	executionRepo *ExecutionRepository
	artifactRepo  *ArtifactRepository
}

// NewPersistence connects to databaseURL and brings the schema up to date.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql")
	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		executionRepo: NewExecutionRepository(database, logger),
		artifactRepo:  NewArtifactRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	return p.executionRepo.Save(ctx, execution)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return p.executionRepo.GetByID(ctx, id)
}

func (p *Persistence) ExecutionsByUser(ctx context.Context, userID string, limit int) ([]*models.WorkflowExecution, error) {
	return p.executionRepo.GetByUser(ctx, userID, limit)
}

// DeleteExecutionsBefore removes old executions and their artifacts in one transaction.
func (p *Persistence) DeleteExecutionsBefore(ctx context.Context, before time.Time) (int, error) {
	transaction, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = transaction.ExecContext(ctx, `
		DELETE FROM artifacts
		WHERE execution_id IN (SELECT id FROM executions WHERE completed_at < $1)
	`, before.UTC())
	if err != nil {
		_ = transaction.Rollback()

		return 0, fmt.Errorf("failed to delete artifacts: %w", err)
	}

	result, err := transaction.ExecContext(ctx, "DELETE FROM executions WHERE completed_at < $1", before.UTC())
	if err != nil {
		_ = transaction.Rollback()

		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		_ = transaction.Rollback()

		return 0, fmt.Errorf("failed to count deleted executions: %w", err)
	}

	err = transaction.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit deletion: %w", err)
	}

	return int(deleted), nil
}

func (p *Persistence) SaveArtifact(ctx context.Context, artifact *models.Artifact) error {
	return p.artifactRepo.Save(ctx, artifact)
}

func (p *Persistence) Artifact(ctx context.Context, executionID, name string) (*models.Artifact, error) {
	return p.artifactRepo.Get(ctx, executionID, name)
}

func (p *Persistence) Artifacts(ctx context.Context, executionID string) ([]*models.Artifact, error) {
	return p.artifactRepo.List(ctx, executionID)
}
