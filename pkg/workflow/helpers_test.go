package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/statestore/memory"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okStage(name models.StageName) Stage {
	return StageFunc{
		StageName: name,
		Fn: func(_ context.Context, view models.StateView, _ models.StageContext) models.StageResult {
			data := map[string]any{"stage": string(name), "presentation_id": view.PresentationID()}
			if name == models.StageContent {
				data["slides"] = []map[string]any{{"slide_number": 1, "owner": view.PresentationID()}}
			}

			return models.Succeeded(name, data)
		},
	}
}

func failingStage(name models.StageName, message string) Stage {
	return StageFunc{
		StageName: name,
		Fn: func(context.Context, models.StateView, models.StageContext) models.StageResult {
			return models.Failed(name, models.NewStageError(name, models.CodeGenerationFailed, message, nil))
		},
	}
}

// flakyPlan fails its first failures attempts.
func flakyPlan(failures int) Stage {
	return StageFunc{
		StageName: models.StagePlan,
		Fn: func(_ context.Context, _ models.StateView, sctx models.StageContext) models.StageResult {
			if sctx.Attempt <= failures {
				return models.Failed(models.StagePlan, errors.New("planner returned malformed output"))
			}

			return models.Succeeded(models.StagePlan, map[string]any{"title": "Deck"})
		},
	}
}

func newTestRegistry(overrides ...Stage) *Registry {
	registry := NewRegistry()
	for _, name := range models.Pipeline() {
		registry.Register(okStage(name))
	}

	for _, stage := range overrides {
		registry.Register(stage)
	}

	return registry
}

func newTestOrchestrator(t *testing.T, overrides ...Stage) (*Orchestrator, *memory.Store) {
	t.Helper()

	store := memory.NewStore(0)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	return NewOrchestrator(newTestRegistry(overrides...), DefaultGraph(DefaultPlanRetryCeiling), testLogger(),
		WithStateStore(store)), store
}

func runRequest() RunRequest {
	return RunRequest{
		PresentationID:   "pres-1",
		UserID:           "user-1",
		SourceDocument:   &models.SourceDocument{Content: "Quarterly revenue grew 12 percent."},
		UserRequirements: models.Requirements{"max_slides": 10},
	}
}
