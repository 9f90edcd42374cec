package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequirements_Int(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  int
		ok    bool
	}{
		{"int", 12, 12, true},
		{"float from json", float64(8), 8, true},
		{"json number", json.Number("5"), 5, true},
		{"numeric string", " 7 ", 7, true},
		{"text", "many", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := Requirements{"max_slides": tt.value}.Int("max_slides")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequirements_Accessors(t *testing.T) {
	t.Parallel()

	req := Requirements{"template": "", "manual_content": "  notes  ", "strict": true}

	assert.Equal(t, "corporate", req.String("template", "corporate"))
	assert.Equal(t, "notes", req.ManualContent())
	assert.True(t, req.Bool("strict", false))
	assert.False(t, req.Bool("missing", false))

	clone := req.Clone()
	clone["template"] = "executive"
	assert.Empty(t, req["template"])
	assert.NotNil(t, Requirements(nil).Clone())
}

func TestWorkflowState_Attempts(t *testing.T) {
	t.Parallel()

	state := NewWorkflowState("pres-1", "user-1", "session-1", nil, nil, nil)
	state.CompletedSteps = []StageName{StagePlan, StagePlan, StageResearch}

	assert.Equal(t, 2, state.Attempts(StagePlan))
	assert.Equal(t, 1, state.Attempts(StageResearch))
	assert.Zero(t, state.Attempts(StageExport))
	assert.Equal(t, InitialStep, state.CurrentStep)
}

func TestStateView_OutputRequiresSuccessfulOwner(t *testing.T) {
	t.Parallel()

	state := NewWorkflowState("pres-1", "user-1", "session-1", nil, nil, nil)
	state.Outputs[SlotPresentationPlan] = map[string]any{"title": "Deck"}
	state.AgentResults = append(state.AgentResults, Succeeded(StagePlan, nil))

	plan, ok := state.View().Map(SlotPresentationPlan)
	require.True(t, ok)
	assert.Equal(t, "Deck", plan["title"])

	state.AgentResults = append(state.AgentResults, Failed(StagePlan, errors.New("bad answer")))

	_, ok = state.View().Map(SlotPresentationPlan)
	assert.False(t, ok)
}

func TestStateView_IsDetached(t *testing.T) {
	t.Parallel()

	state := NewWorkflowState("pres-1", "user-1", "session-1",
		&SourceDocument{Content: "text"}, Requirements{"title": "Deck"}, nil)

	view := state.View()
	view.Requirements()["title"] = "Changed"
	view.SourceDocument().Content = "changed"

	assert.Equal(t, "Deck", state.UserRequirements["title"])
	assert.Equal(t, "text", state.SourceDocument.Content)
}

func TestStateView_SlidesAfterJSONRoundTrip(t *testing.T) {
	t.Parallel()

	state := NewWorkflowState("pres-1", "user-1", "session-1", nil, nil, nil)
	state.Outputs[SlotSlideContent] = []any{map[string]any{"slide_number": float64(1)}}
	state.AgentResults = append(state.AgentResults, Succeeded(StageContent, nil))

	slides, ok := state.View().Slides()
	require.True(t, ok)
	assert.Len(t, slides, 1)

	_, ok = AsMapSlice([]any{"not a map"})
	assert.False(t, ok)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		kind ErrorKind
		code string
	}{
		{"input error", NewInputError(StagePlan, CodeInvalidSlideCount, "too many", ErrInvalidSlideCount), KindInvalidInput, CodeInvalidSlideCount},
		{"missing upstream", MissingUpstream(StageContent, SlotPresentationPlan), KindStageFailed, CodeMissingUpstream},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout, ""},
		{"cancelled", ErrRunCancelled, KindCancelled, ""},
		{"plain", errors.New("boom"), KindStageFailed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.code, CodeOf(tt.err))
		})
	}

	assert.False(t, KindInvalidInput.Retryable())
	assert.False(t, KindCancelled.Retryable())
	assert.True(t, KindTimeout.Retryable())
}

func TestFailed_ClassifiesError(t *testing.T) {
	t.Parallel()

	result := Failed(StagePlan, NewInputError(StagePlan, CodeInsufficientInput, "nothing to plan", ErrMissingInput))

	assert.False(t, result.Success)
	assert.Equal(t, KindInvalidInput, result.ErrorKind)
	assert.Equal(t, "invalid_input", result.Metadata["error_type"])
	assert.Equal(t, CodeInsufficientInput, result.Metadata["error_code"])
	assert.Equal(t, []string{"plan: nothing to plan: missing input"}, result.Errors)
	assert.ErrorIs(t, NewInputError(StagePlan, "", "", ErrMissingInput), ErrMissingInput)
}

func TestWorkflowExecution_ResultFor(t *testing.T) {
	t.Parallel()

	execution := &WorkflowExecution{
		State: ExecutionCompleted,
		AgentResults: []StageResult{
			Failed(StagePlan, errors.New("first")),
			Succeeded(StagePlan, map[string]any{"attempt": 2}),
		},
	}

	result, ok := execution.ResultFor(StagePlan)
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.True(t, execution.Succeeded())

	_, ok = execution.ResultFor(StageExport)
	assert.False(t, ok)
}
