package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/deckflow/pkg/assembler"
	"github.com/dukex/deckflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryArtifacts struct {
	mu        sync.Mutex
	artifacts []*models.Artifact
	err       error
}

func (m *memoryArtifacts) SaveArtifact(_ context.Context, artifact *models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.artifacts = append(m.artifacts, artifact)

	return nil
}

func succeed(state *models.WorkflowState, stage models.StageName, slot models.Slot, value any) {
	state.Outputs[slot] = value
	state.CompletedSteps = append(state.CompletedSteps, stage)
	state.AgentResults = append(state.AgentResults, models.StageResult{StageName: stage, Success: true})
}

func exportState(formats any, compliant bool) *models.WorkflowState {
	state := models.NewWorkflowState("pres-1", "user-1", "session-1", nil, models.Requirements{"title": "Req title"}, nil)

	succeed(state, models.StagePlan, models.SlotPresentationPlan, map[string]any{
		"presentation_outline":    map[string]any{"title": "Quarterly Review"},
		"template_recommendation": map[string]any{"primary_template": "financial"},
	})
	succeed(state, models.StageContent, models.SlotSlideContent, []map[string]any{
		{"slide_number": 1, "title": "Welcome", "content": []string{"Hello"}},
		{"slide_number": 2, "title": "Numbers", "content": []string{"Up 12%"}},
	})

	architecture := map[string]any{"architecture_score": 0.91}
	if formats != nil {
		architecture["export_formats"] = formats
	}

	succeed(state, models.StageArchitecture, models.SlotArchitectureDecisions, architecture)
	succeed(state, models.StageCompliance, models.SlotComplianceReport, map[string]any{"overall_compliance": compliant})

	return state
}

func newStage(opts ...Option) *Stage {
	stage := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	stage.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	return stage
}

func TestStage_Execute(t *testing.T) {
	t.Parallel()

	store := &memoryArtifacts{}
	stage := newStage(WithArtifactStore(store), WithBaseURL("https://deck.example.com/generations/"))

	result := stage.Execute(context.Background(), exportState([]any{"pdf", "html", "docx"}, true).View(),
		models.StageContext{SessionID: "session-1"})
	require.True(t, result.Success, result.Errors)

	assert.Equal(t, []string{"pptx", "pdf", "html"}, result.Data["export_formats"])
	assert.Equal(t, 3, result.Data["total_files_generated"])

	records := result.Data["export_results"].([]map[string]any)
	require.Len(t, records, 3)
	assert.Equal(t, "pres-1.pptx.json", records[0]["filename"])
	assert.Equal(t, "https://deck.example.com/generations/session-1/artifacts/pres-1.html", records[2]["download_url"])
	assert.Equal(t, "2026-01-03T03:04:05Z", records[0]["expires_at"])
	assert.Equal(t, 2, records[1]["slide_count"])

	require.Len(t, store.artifacts, 3)
	html := store.artifacts[2]
	assert.Equal(t, "session-1", html.ExecutionID)
	assert.Equal(t, "text/html; charset=utf-8", html.ContentType)
	assert.Contains(t, string(html.Data), "<title>Quarterly Review</title>")
	assert.Equal(t, int64(len(html.Data)), html.Size)

	assert.NotContains(t, result.Messages, "Compliance issues detected, proceeding with cautious export")
	assert.Contains(t, result.Messages, "Export formats: pptx, pdf, html")
}

func TestStage_NonCompliantDeckStillExports(t *testing.T) {
	t.Parallel()

	result := newStage().Execute(context.Background(), exportState(nil, false).View(), models.StageContext{})
	require.True(t, result.Success)

	assert.Equal(t, []string{"pptx", "pdf"}, result.Data["export_formats"])
	assert.Contains(t, result.Messages, "Compliance issues detected, proceeding with cautious export")
	assert.Equal(t, false, result.Metadata["stored"])
}

// expiringAssembler ends the attempt's context once a file is assembled.
type expiringAssembler struct {
	assembler.Assembler
	expire context.CancelFunc
}

func (a expiringAssembler) Assemble(ctx context.Context, format string, deck assembler.Deck) ([]byte, error) {
	data, err := a.Assembler.Assemble(ctx, format, deck)
	a.expire()

	return data, err
}

func TestStage_Failures(t *testing.T) {
	t.Parallel()

	t.Run("store error is retryable", func(t *testing.T) {
		t.Parallel()

		stage := newStage(WithArtifactStore(&memoryArtifacts{err: errors.New("disk full")}))

		result := stage.Execute(context.Background(), exportState(nil, true).View(), models.StageContext{})

		assert.False(t, result.Success)
		assert.Equal(t, models.KindStageFailed, result.ErrorKind)
		assert.Equal(t, CodeExportFailed, result.Metadata["error_code"])
		assert.Contains(t, result.Errors[0], "disk full")
	})

	t.Run("no slides", func(t *testing.T) {
		t.Parallel()

		state := models.NewWorkflowState("p", "u", "s", nil, nil, nil)
		result := newStage().Execute(context.Background(), state.View(), models.StageContext{})

		assert.False(t, result.Success)
		assert.Equal(t, models.CodeMissingUpstream, result.Metadata["error_code"])
	})

	t.Run("deadline after assembly stores nothing", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := &memoryArtifacts{}
		stage := New(expiringAssembler{Assembler: assembler.Default(), expire: cancel},
			slog.New(slog.NewTextHandler(io.Discard, nil)), WithArtifactStore(store))

		result := stage.Execute(ctx, exportState(nil, true).View(), models.StageContext{})

		assert.False(t, result.Success)
		assert.Equal(t, models.KindCancelled, result.ErrorKind)
		assert.Empty(t, store.artifacts)
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := newStage().Execute(ctx, exportState(nil, true).View(), models.StageContext{})

		assert.False(t, result.Success)
		assert.Equal(t, models.KindCancelled, result.ErrorKind)
	})
}

func TestDetermineFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured any
		expected   []string
	}{
		{name: "missing uses defaults", configured: nil, expected: []string{"pptx", "pdf"}},
		{name: "pptx forced first", configured: []string{"html", "png"}, expected: []string{"pptx", "html", "png"}},
		{name: "unsupported dropped", configured: []any{"pdf", "docx", 3}, expected: []string{"pptx", "pdf"}},
		{name: "duplicates dropped", configured: []string{"pdf", "pptx", "pdf"}, expected: []string{"pdf", "pptx"}},
		{name: "empty list", configured: []string{}, expected: []string{"pptx"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, DetermineFormats(tt.configured, DefaultFormats))
		})
	}
}

func TestHumanSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KB", humanSize(1536))
	assert.Equal(t, "2.0 MB", humanSize(2<<20))
	assert.Equal(t, assembler.FormatPPTX, SupportedFormats[0])
}
