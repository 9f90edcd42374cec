package workflow

import (
	"testing"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_Next(t *testing.T) {
	t.Parallel()

	failed := models.StageResult{Success: false, ErrorKind: models.KindStageFailed, Errors: []string{"boom"}}

	tests := []struct {
		name         string
		completed    []models.StageName
		errors       []string
		current      models.StageName
		last         models.StageResult
		expectedNext models.StageName
		expectedDone bool
	}{
		{
			name:         "plan without errors proceeds to research",
			completed:    []models.StageName{models.StagePlan},
			current:      models.StagePlan,
			last:         models.StageResult{Success: true},
			expectedNext: models.StageResearch,
		},
		{
			name:         "failed plan below ceiling retries",
			completed:    []models.StageName{models.StagePlan},
			errors:       []string{"boom"},
			current:      models.StagePlan,
			last:         failed,
			expectedNext: models.StagePlan,
		},
		{
			name:         "failed plan at ceiling reaches terminal state",
			completed:    []models.StageName{models.StagePlan, models.StagePlan, models.StagePlan},
			errors:       []string{"boom", "boom", "boom"},
			current:      models.StagePlan,
			last:         failed,
			expectedDone: true,
		},
		{
			name:         "failed research still proceeds",
			completed:    []models.StageName{models.StagePlan, models.StageResearch},
			errors:       []string{"boom"},
			current:      models.StageResearch,
			last:         failed,
			expectedNext: models.StageContent,
		},
		{
			name:         "export is the last stage",
			completed:    models.Pipeline(),
			current:      models.StageExport,
			last:         models.StageResult{Success: true},
			expectedDone: true,
		},
	}

	graph := DefaultGraph(3)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			state := models.NewWorkflowState("p", "u", "s", nil, nil, nil)
			state.CompletedSteps = tt.completed
			state.Errors = append(state.Errors, tt.errors...)

			next, done, err := graph.Next(state, tt.current, tt.last)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedDone, done)
			assert.Equal(t, tt.expectedNext, next)
		})
	}
}

func TestGraph_NextRejectsUnknownStage(t *testing.T) {
	t.Parallel()

	state := models.NewWorkflowState("p", "u", "s", nil, nil, nil)

	_, _, err := DefaultGraph(3).Next(state, "review", models.StageResult{Success: true})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGraph_NextRejectsUnknownDecision(t *testing.T) {
	t.Parallel()

	graph := NewGraph(models.StagePlan, models.StageResearch).
		Gate(models.StagePlan, "broken", func(int, []string, models.StageResult) Decision { return Decision(42) }, 1)

	state := models.NewWorkflowState("p", "u", "s", nil, nil, nil)

	_, _, err := graph.Next(state, models.StagePlan, models.StageResult{Success: true})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGraph_Defaults(t *testing.T) {
	t.Parallel()

	graph := DefaultGraph(0)

	entry, err := graph.Entry()
	require.NoError(t, err)
	assert.Equal(t, models.StagePlan, entry)
	assert.Equal(t, models.Pipeline(), graph.Order())
	assert.Equal(t, "ceiling(3)", graph.PolicyName(models.StagePlan))
	assert.Empty(t, graph.PolicyName(models.StageExport))
	assert.Equal(t, 8, graph.MaxSteps())

	graph.Gate(models.StageExport, "ceiling(10)", CeilingPolicy(10), 10)
	assert.Equal(t, 17, graph.MaxSteps())
	assert.Equal(t, 4, graph.WithMaxSteps(4).MaxSteps())

	_, err = NewGraph().Entry()
	require.ErrorIs(t, err, ErrInvalidTransition)
}
