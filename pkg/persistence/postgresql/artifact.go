package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence"
)

// ArtifactRepository handles artifact-related database operations.
type ArtifactRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewArtifactRepository creates a new artifact repository.
func NewArtifactRepository(db *sql.DB, logger *slog.Logger) *ArtifactRepository {
	return &ArtifactRepository{db: db, logger: logger}
}

func (r *ArtifactRepository) Save(ctx context.Context, artifact *models.Artifact) error {
	if err := persistence.ValidateName(artifact.Name); err != nil {
		return persistence.NewExecutionError("SaveArtifact", artifact.ExecutionID, err)
	}

	data := artifact.Data
	if data == nil {
		data = []byte{}
	}

	query := `
		INSERT INTO artifacts (execution_id, name, format, content_type, size, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id, name) DO UPDATE SET
			format = EXCLUDED.format
		  , content_type = EXCLUDED.content_type
		  , size = EXCLUDED.size
		  , data = EXCLUDED.data
		  , created_at = EXCLUDED.created_at
	`

	_, err := r.db.ExecContext(ctx, query,
		artifact.ExecutionID,
		artifact.Name,
		artifact.Format,
		artifact.ContentType,
		int64(len(data)),
		data,
		artifact.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}

	return nil
}

func (r *ArtifactRepository) Get(ctx context.Context, executionID, name string) (*models.Artifact, error) {
	query := `
		SELECT execution_id, name, format, content_type, size, created_at, data
		FROM artifacts
		WHERE execution_id = $1 AND name = $2
	`

	var artifact models.Artifact

	err := r.db.QueryRowContext(ctx, query, executionID, name).Scan(
		&artifact.ExecutionID,
		&artifact.Name,
		&artifact.Format,
		&artifact.ContentType,
		&artifact.Size,
		&artifact.CreatedAt,
		&artifact.Data,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("Artifact", executionID, persistence.ErrArtifactNotFound)
		}

		return nil, fmt.Errorf("failed to scan artifact: %w", err)
	}

	artifact.CreatedAt = artifact.CreatedAt.UTC()

	return &artifact, nil
}

// List returns artifact descriptions without their data.
func (r *ArtifactRepository) List(ctx context.Context, executionID string) ([]*models.Artifact, error) {
	query := `
		SELECT execution_id, name, format, content_type, size, created_at
		FROM artifacts
		WHERE execution_id = $1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	artifacts := make([]*models.Artifact, 0)

	for rows.Next() {
		var artifact models.Artifact

		err := rows.Scan(
			&artifact.ExecutionID,
			&artifact.Name,
			&artifact.Format,
			&artifact.ContentType,
			&artifact.Size,
			&artifact.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}

		artifact.CreatedAt = artifact.CreatedAt.UTC()
		artifacts = append(artifacts, &artifact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}

	return artifacts, nil
}
