package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence"
)

const executionColumns = `
			id
		  , presentation_id
		  , user_id
		  , state
		  , agent_results
		  , errors
		  , total_execution_time
		  , metadata
		  , started_at
		  , completed_at`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Save inserts the execution or replaces the stored record with the same id.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	if err := persistence.ValidateName(execution.ID); err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	agentResults, err := json.Marshal(execution.AgentResults)
	if err != nil {
		return fmt.Errorf("failed to marshal agent results: %w", err)
	}

	errs := execution.Errors
	if errs == nil {
		errs = []string{}
	}

	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	metadata, err := json.Marshal(execution.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			presentation_id = EXCLUDED.presentation_id
		  , user_id = EXCLUDED.user_id
		  , state = EXCLUDED.state
		  , agent_results = EXCLUDED.agent_results
		  , errors = EXCLUDED.errors
		  , total_execution_time = EXCLUDED.total_execution_time
		  , metadata = EXCLUDED.metadata
		  , started_at = EXCLUDED.started_at
		  , completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.PresentationID,
		execution.UserID,
		string(execution.State),
		agentResults,
		errorsJSON,
		execution.TotalExecutionTime,
		metadata,
		execution.StartedAt.UTC(),
		execution.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// GetByID returns the execution or an error wrapping ErrExecutionNotFound.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	if err := persistence.ValidateName(id); err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// GetByUser returns the executions of userID, newest first.
func (r *ExecutionRepository) GetByUser(ctx context.Context, userID string, limit int) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE user_id = $1 ORDER BY started_at DESC`
	args := []any{userID}

	if limit > 0 {
		query += " LIMIT $2"

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *ExecutionRepository) scan(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution                        models.WorkflowExecution
		state                            string
		agentResults, errs, metadataJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.PresentationID,
		&execution.UserID,
		&state,
		&agentResults,
		&errs,
		&execution.TotalExecutionTime,
		&metadataJSON,
		&execution.StartedAt,
		&execution.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.State = models.ExecutionState(state)

	if err := json.Unmarshal(agentResults, &execution.AgentResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent results: %w", err)
	}

	if err := json.Unmarshal(errs, &execution.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &execution.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	execution.StartedAt = execution.StartedAt.UTC()
	execution.CompletedAt = execution.CompletedAt.UTC()

	return &execution, nil
}
