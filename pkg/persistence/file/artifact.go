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

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence"
)

// ArtifactRepository stores artifact bytes under files/ and their descriptions under meta/.
type ArtifactRepository struct {
	root string
}

func NewArtifactRepository(root string) *ArtifactRepository {
	return &ArtifactRepository{root: root}
}

func (ar *ArtifactRepository) dir(executionID string) string {
	return filepath.Join(ar.root, "artifacts", executionID)
}

func validate(executionID, name string) error {
	if err := persistence.ValidateName(executionID); err != nil {
		return err
	}

	return persistence.ValidateName(name)
}

func (ar *ArtifactRepository) Save(_ context.Context, artifact *models.Artifact) error {
	if err := validate(artifact.ExecutionID, artifact.Name); err != nil {
		return persistence.NewExecutionError("SaveArtifact", artifact.ExecutionID, err)
	}

	base := ar.dir(artifact.ExecutionID)

	for _, sub := range []string{"files", "meta"} {
		if err := os.MkdirAll(filepath.Join(base, sub), 0750); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}

	if err := os.WriteFile(filepath.Join(base, "files", artifact.Name), artifact.Data, 0600); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", artifact.Name, err)
	}

	meta := *artifact
	meta.Size = int64(len(artifact.Data))

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", artifact.Name, err)
	}

	if err := os.WriteFile(filepath.Join(base, "meta", artifact.Name+".json"), data, 0600); err != nil {
		return fmt.Errorf("failed to write artifact metadata %s: %w", artifact.Name, err)
	}

	return nil
}

func (ar *ArtifactRepository) meta(executionID, name string) (*models.Artifact, error) {
	body, err := os.ReadFile(filepath.Join(ar.dir(executionID), "meta", name+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError("Artifact", executionID, persistence.ErrArtifactNotFound)
		}

		return nil, fmt.Errorf("failed to read artifact metadata %s: %w", name, err)
	}

	var artifact models.Artifact
	if err := json.Unmarshal(body, &artifact); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact metadata %s: %w", name, err)
	}

	return &artifact, nil
}

// Get returns an artifact including its data.
func (ar *ArtifactRepository) Get(_ context.Context, executionID, name string) (*models.Artifact, error) {
	if err := validate(executionID, name); err != nil {
		return nil, persistence.NewExecutionError("Artifact", executionID, err)
	}

	artifact, err := ar.meta(executionID, name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(ar.dir(executionID), "files", name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError("Artifact", executionID, persistence.ErrArtifactNotFound)
		}

		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}

	artifact.Data = data

	return artifact, nil
}

// List returns the artifact descriptions of an execution sorted by name.
func (ar *ArtifactRepository) List(_ context.Context, executionID string) ([]*models.Artifact, error) {
	if err := persistence.ValidateName(executionID); err != nil {
		return nil, persistence.NewExecutionError("Artifacts", executionID, err)
	}

	metaFiles, err := fs.Glob(os.DirFS(filepath.Join(ar.dir(executionID), "meta")), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	artifacts := make([]*models.Artifact, 0, len(metaFiles))

	for _, file := range metaFiles {
		artifact, err := ar.meta(executionID, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		artifacts = append(artifacts, artifact)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name < artifacts[j].Name
	})

	return artifacts, nil
}

// DeleteAll removes every artifact of an execution.
func (ar *ArtifactRepository) DeleteAll(_ context.Context, executionID string) error {
	if err := persistence.ValidateName(executionID); err != nil {
		return persistence.NewExecutionError("DeleteArtifacts", executionID, err)
	}

	if err := os.RemoveAll(ar.dir(executionID)); err != nil {
		return fmt.Errorf("failed to delete artifacts of %s: %w", executionID, err)
	}

	return nil
}
