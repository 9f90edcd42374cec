package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence"
	"github.com/dukex/deckflow/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"artifacts", "executions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("deckflow_test"),
			postgres.WithUsername("deckflow"),
			postgres.WithPassword("deckflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx, databaseURL
}

func execution(id, userID string, started time.Time) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:             id,
		PresentationID: "pres-" + id,
		UserID:         userID,
		State:          models.ExecutionError,
		AgentResults: []models.StageResult{
			{StageName: models.StagePlan, Success: false, Errors: []string{"generation failed"}, Messages: []string{}},
		},
		Errors:             []string{"generation failed"},
		TotalExecutionTime: 0.25,
		StartedAt:          started,
		CompletedAt:        started.Add(time.Second),
		Metadata:           map[string]any{"workflow_version": "1.0"},
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer db.Close()

	var version int

	require.NoError(t, db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 2, version)
}

func TestExecutions(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, p.SaveExecution(ctx, execution("run-1", "alice", base)))
	require.NoError(t, p.SaveExecution(ctx, execution("run-2", "alice", base.Add(time.Hour))))

	got, err := p.ExecutionByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionError, got.State)
	assert.Equal(t, []string{"generation failed"}, got.Errors)
	assert.Equal(t, models.StagePlan, got.AgentResults[0].StageName)
	assert.Equal(t, "1.0", got.Metadata["workflow_version"])
	assert.True(t, base.Equal(got.StartedAt))

	updated := execution("run-1", "alice", base)
	updated.State = models.ExecutionCompleted
	updated.Errors = nil
	require.NoError(t, p.SaveExecution(ctx, updated))

	got, err = p.ExecutionByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, got.State)
	assert.Empty(t, got.Errors)

	byUser, err := p.ExecutionsByUser(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "run-2", byUser[0].ID)

	_, err = p.ExecutionByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestArtifactsAndRetention(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	old := time.Now().UTC().Add(-72 * time.Hour)

	require.NoError(t, p.SaveExecution(ctx, execution("old", "bob", old)))
	require.NoError(t, p.SaveExecution(ctx, execution("new", "bob", time.Now().UTC())))

	require.NoError(t, p.SaveArtifact(ctx, &models.Artifact{
		ExecutionID: "old",
		Name:        "deck.html",
		Format:      "html",
		ContentType: "text/html; charset=utf-8",
		CreatedAt:   old,
		Data:        []byte("<html></html>"),
	}))

	got, err := p.Artifact(ctx, "old", "deck.html")
	require.NoError(t, err)
	assert.Equal(t, []byte("<html></html>"), got.Data)
	assert.Equal(t, int64(13), got.Size)

	list, err := p.Artifacts(ctx, "old")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Data)

	deleted, err := p.DeleteExecutionsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = p.Artifact(ctx, "old", "deck.html")
	assert.True(t, persistence.IsArtifactNotFound(err))

	_, err = p.ExecutionByID(ctx, "new")
	assert.NoError(t, err)
}
