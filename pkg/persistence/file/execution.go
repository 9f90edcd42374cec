package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence"
)

// ExecutionRepository stores one JSON file per execution.
type ExecutionRepository struct {
	root string
	mu   sync.RWMutex
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

// GetByID retrieves an execution by its ID from the file system.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	if err := persistence.ValidateName(id); err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	er.mu.RLock()
	defer er.mu.RUnlock()

	return er.read(filepath.Join(er.dir(), id+".json"), id)
}

func (er *ExecutionRepository) read(filePath, id string) (*models.WorkflowExecution, error) {
	body, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	var execution models.WorkflowExecution

	err = json.Unmarshal(body, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &execution, nil
}

// Save writes an execution, replacing any previous record with the same ID.
func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	if err := persistence.ValidateName(execution.ID); err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	err := os.MkdirAll(er.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	// Write then rename so readers never see a partial file.
	target := filepath.Join(er.dir(), execution.ID+".json")
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write execution %s: %w", execution.ID, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to store execution %s: %w", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) all() ([]*models.WorkflowExecution, error) {
	jsonFiles, err := fs.Glob(os.DirFS(er.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		execution, err := er.read(filepath.Join(er.dir(), file), strings.TrimSuffix(file, ".json"))
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

// GetByUser returns the executions of a user, newest first.
func (er *ExecutionRepository) GetByUser(_ context.Context, userID string, limit int) ([]*models.WorkflowExecution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if execution.UserID == userID {
			filtered = append(filtered, execution)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].StartedAt.After(filtered[j].StartedAt)
	})

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	return filtered, nil
}

// DeleteBefore removes executions completed before the cutoff and returns their IDs.
func (er *ExecutionRepository) DeleteBefore(_ context.Context, before time.Time) ([]string, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	var deleted []string

	for _, execution := range executions {
		if !execution.CompletedAt.Before(before) {
			continue
		}

		err := os.Remove(filepath.Join(er.dir(), execution.ID+".json"))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return deleted, fmt.Errorf("failed to delete execution %s: %w", execution.ID, err)
		}

		deleted = append(deleted, execution.ID)
	}

	return deleted, nil
}
