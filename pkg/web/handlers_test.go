package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/deckflow/pkg/config"
	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence/file"
	"github.com/dukex/deckflow/pkg/services"
	"github.com/dukex/deckflow/pkg/web"
	"github.com/dukex/deckflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app         *fiber.App
	service     *services.Generation
	persistence *file.Persistence
}

func registry() *workflow.Registry {
	r := workflow.NewRegistry()

	for _, name := range models.Pipeline() {
		r.Register(workflow.StageFunc{
			StageName: name,
			Fn: func(context.Context, models.StateView, models.StageContext) models.StageResult {
				data := map[string]any{"stage": string(name)}
				if name == models.StageContent {
					data["slides"] = []map[string]any{{"slide_number": 1}}
				}

				return models.Succeeded(name, data)
			},
		})
	}

	return r
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	settings := config.Defaults()
	persistence := file.NewPersistence(t.TempDir())
	orchestrator := workflow.NewOrchestrator(registry(), workflow.DefaultGraph(settings.PlanRetryCeiling), logger)
	service := services.NewGeneration(context.Background(), orchestrator, persistence, settings, logger)
	handlers := web.NewAPIHandlers(service)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)
	app.Get("/stages", handlers.GetStages)
	app.Post("/documents/extract", handlers.ExtractDocument)

	g := app.Group("/generations")
	g.Get("/", handlers.ListGenerations)
	g.Post("/", handlers.CreateGeneration)
	g.Get("/:id", handlers.GetGeneration)
	g.Get("/:id/status", handlers.GetGenerationStatus)
	g.Delete("/:id", handlers.CancelGeneration)
	g.Get("/:id/artifacts", handlers.ListArtifacts)
	g.Get("/:id/artifacts/:name", handlers.GetArtifact)

	return &testEnv{app: app, service: service, persistence: persistence}
}

func (env *testEnv) wait(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, env.service.Wait(ctx))
}

func doJSON(t *testing.T, app *fiber.App, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func TestAPIHandlers_GenerationLifecycle(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp, body := doJSON(t, env.app, http.MethodPost, "/generations", map[string]any{
		"title":   "Quarterly results",
		"content": "Revenue grew across every region this quarter.",
		"user_id": "alice",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var accepted services.Accepted
	require.NoError(t, json.Unmarshal(body, &accepted))
	assert.Equal(t, "/generations/"+accepted.SessionID, resp.Header.Get("Location"))

	env.wait(t)

	resp, body = doJSON(t, env.app, http.MethodGet, "/generations/"+accepted.SessionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execution models.WorkflowExecution
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, models.ExecutionCompleted, execution.State)
	assert.Equal(t, "alice", execution.UserID)

	resp, body = doJSON(t, env.app, http.MethodGet, "/generations/"+accepted.SessionID+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status web.StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.True(t, status.IsComplete)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, len(models.Pipeline()), status.TotalSteps)

	resp, body = doJSON(t, env.app, http.MethodGet, "/generations?user_id=alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), accepted.SessionID)

	resp, _ = doJSON(t, env.app, http.MethodDelete, "/generations/"+accepted.SessionID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_CreateGenerationErrors(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedDetail string
	}{
		{"malformed json", `{"title":`, http.StatusBadRequest, "Invalid JSON format"},
		{"missing title", `{"content":"A long enough description"}`, http.StatusBadRequest, "Title failed on required"},
		{"too many slides", `{"title":"Deck","content":"A long enough description","max_slides":30}`, http.StatusBadRequest, "exceeds the limit of 25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/generations", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := env.app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			var problem map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
			assert.Equal(t, "validation_error", problem["type"])
			assert.Contains(t, problem["detail"], tt.expectedDetail)
		})
	}
}

func TestAPIHandlers_NotFound(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	for _, url := range []string{
		"/generations/unknown",
		"/generations/unknown/status",
		"/generations/unknown/artifacts/deck.html",
	} {
		resp, body := doJSON(t, env.app, http.MethodGet, url, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, url)
		assert.Contains(t, string(body), "not_found")
	}

	resp, _ := doJSON(t, env.app, http.MethodDelete, "/generations/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_Artifacts(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	require.NoError(t, env.persistence.SaveArtifact(context.Background(), &models.Artifact{
		ExecutionID: "session-1",
		Name:        "deck.html",
		Format:      "html",
		ContentType: "text/html; charset=utf-8",
		CreatedAt:   time.Now().UTC(),
		Data:        []byte("<html>deck</html>"),
	}))

	resp, body := doJSON(t, env.app, http.MethodGet, "/generations/session-1/artifacts/deck.html?download=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>deck</html>", string(body))
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="deck.html"`, resp.Header.Get("Content-Disposition"))

	resp, body = doJSON(t, env.app, http.MethodGet, "/generations/session-1/artifacts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list web.ArtifactsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Artifacts, 1)
	assert.Equal(t, int64(17), list.Artifacts[0].Size)
}

func TestAPIHandlers_StagesAndHealth(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp, body := doJSON(t, env.app, http.MethodGet, "/stages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stages struct {
		Stages []models.StageInfo `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(body, &stages))
	require.Len(t, stages.Stages, len(models.Pipeline()))
	assert.Equal(t, models.StagePlan, stages.Stages[0].Name)
	assert.Equal(t, "ceiling(3)", stages.Stages[0].RetryPolicy)

	resp, body = doJSON(t, env.app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestAPIHandlers_ExtractDocument(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	t.Run("raw body", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodPost, "/documents/extract?filename=notes.txt", bytes.NewBufferString("Costs fell 12% in 2025."))
		req.Header.Set("Content-Type", "text/plain")

		resp, err := env.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out web.ExtractResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "Costs fell 12% in 2025.", out.Document.Content)
		assert.Equal(t, "notes.txt", out.Document.Metadata["filename"])
	})

	t.Run("multipart", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer

		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", "page.html")
		require.NoError(t, err)

		_, err = part.Write([]byte("<html><body><p>Hello deck</p></body></html>"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/documents/extract", &buf)
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := env.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out web.ExtractResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "Hello deck", out.Document.Content)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodPost, "/documents/extract", nil)

		resp, err := env.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
