package workflow

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/deckflow/pkg/channels/gochannel"
	"github.com/dukex/deckflow/pkg/eventbus"
	"github.com/dukex/deckflow/pkg/events"
	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/statestore"
	"github.com/dukex/deckflow/pkg/statestore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOrchestrator_Run_AllStagesSucceed(t *testing.T) {
	t.Parallel()

	orchestrator, store := newTestOrchestrator(t)

	execution, err := orchestrator.Run(context.Background(), runRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, execution.State)
	assert.True(t, execution.Succeeded())
	assert.Len(t, execution.AgentResults, 6)
	assert.Empty(t, execution.Errors)
	assert.Equal(t, "pres-1", execution.PresentationID)
	assert.Equal(t, "user-1", execution.UserID)
	assert.Equal(t, WorkflowVersion, execution.Metadata["workflow_version"])
	assert.Equal(t, 6, execution.Metadata["stages_count"])
	assert.False(t, execution.CompletedAt.Before(execution.StartedAt))

	state, err := store.Load(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Pipeline(), state.CompletedSteps)
	assert.True(t, state.Complete)
	assert.Equal(t, "export", state.CurrentStep)

	for _, name := range models.Pipeline() {
		slot, _ := name.Slot()
		assert.Contains(t, state.Outputs, slot)
	}
}

func TestOrchestrator_Run_PlanRetries(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		failures := rapid.IntRange(0, 5).Draw(rt, "failures")

		store := memory.NewStore(0)
		orchestrator := NewOrchestrator(newTestRegistry(flakyPlan(failures)), DefaultGraph(3), testLogger(),
			WithStateStore(store))

		execution, err := orchestrator.Run(context.Background(), runRequest())
		if err != nil {
			rt.Fatalf("unexpected workflow error: %v", err)
		}

		state, err := store.Load(context.Background(), execution.ID)
		if err != nil {
			rt.Fatalf("state not checkpointed: %v", err)
		}

		plans := state.Attempts(models.StagePlan)

		if failures < 3 {
			want := append(slices.Repeat([]models.StageName{models.StagePlan}, failures+1), models.Pipeline()[1:]...)
			if !slices.Equal(want, state.CompletedSteps) {
				rt.Fatalf("completed steps %v, want %v", state.CompletedSteps, want)
			}

			if len(execution.AgentResults) != failures+1+5 {
				rt.Fatalf("got %d results, want %d", len(execution.AgentResults), failures+6)
			}

			if (failures == 0) != (execution.State == models.ExecutionCompleted) {
				rt.Fatalf("state %s after %d plan failures", execution.State, failures)
			}

			return
		}

		if plans != 3 || len(state.CompletedSteps) != 3 {
			rt.Fatalf("completed steps %v, want three plan attempts only", state.CompletedSteps)
		}

		if execution.State != models.ExecutionError {
			rt.Fatalf("state %s, want ERROR", execution.State)
		}
	})
}

func TestOrchestrator_Run_LaterFailuresDoNotBlock(t *testing.T) {
	t.Parallel()

	later := models.Pipeline()[1:]

	rapid.Check(t, func(rt *rapid.T) {
		failing := rapid.SliceOfNDistinct(rapid.SampledFrom(later), 1, len(later), rapid.ID[models.StageName]).Draw(rt, "failing")

		overrides := make([]Stage, 0, len(failing))
		for _, name := range failing {
			overrides = append(overrides, failingStage(name, "unavailable"))
		}

		store := memory.NewStore(0)
		orchestrator := NewOrchestrator(newTestRegistry(overrides...), DefaultGraph(3), testLogger(), WithStateStore(store))

		execution, err := orchestrator.Run(context.Background(), runRequest())
		if err != nil {
			rt.Fatalf("unexpected workflow error: %v", err)
		}

		state, _ := store.Load(context.Background(), execution.ID)

		if !slices.Equal(models.Pipeline(), state.CompletedSteps) {
			rt.Fatalf("completed steps %v", state.CompletedSteps)
		}

		if execution.State != models.ExecutionError || len(execution.Errors) != len(failing) {
			rt.Fatalf("state %s with %d errors for %d failures", execution.State, len(execution.Errors), len(failing))
		}

		view := state.View()

		for _, name := range models.Pipeline() {
			slot, _ := name.Slot()
			_, usable := view.Output(slot)

			if slices.Contains(failing, name) == usable {
				rt.Fatalf("slot %s usable=%v although %s failed=%v", slot, usable, name, slices.Contains(failing, name))
			}
		}
	})
}

func TestOrchestrator_Run_ResultsFollowAttemptOrder(t *testing.T) {
	t.Parallel()

	orchestrator, store := newTestOrchestrator(t, flakyPlan(2), failingStage(models.StageCompliance, "checker offline"))

	execution, err := orchestrator.Run(context.Background(), runRequest())
	require.NoError(t, err)

	state, err := store.Load(context.Background(), execution.ID)
	require.NoError(t, err)

	require.Len(t, execution.AgentResults, len(state.CompletedSteps))

	for i, step := range state.CompletedSteps {
		assert.Equal(t, step, execution.AgentResults[i].StageName)
	}

	for _, name := range models.Pipeline() {
		first := slices.Index(state.CompletedSteps, name)
		idx := slices.IndexFunc(execution.AgentResults, func(r models.StageResult) bool { return r.StageName == name })
		assert.Equal(t, first, idx, name)
	}
}

func TestOrchestrator_Run_InvalidInputAbortsWithoutRetry(t *testing.T) {
	t.Parallel()

	rejecting := StageFunc{
		StageName: models.StagePlan,
		Fn: func(_ context.Context, view models.StateView, _ models.StageContext) models.StageResult {
			if n, ok := view.Requirements().Int("max_slides"); ok && n > 25 {
				return models.Failed(models.StagePlan, models.NewInputError(models.StagePlan,
					models.CodeInvalidSlideCount, fmt.Sprintf("max_slides %d exceeds 25", n), models.ErrInvalidSlideCount))
			}

			return models.Succeeded(models.StagePlan, nil)
		},
	}

	orchestrator, store := newTestOrchestrator(t, rejecting)

	req := runRequest()
	req.UserRequirements = models.Requirements{"max_slides": 30}

	execution, err := orchestrator.Run(context.Background(), req)
	require.NoError(t, err)

	state, err := store.Load(context.Background(), execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionError, execution.State)
	assert.Equal(t, []models.StageName{models.StagePlan}, state.CompletedSteps)
	assert.NotEmpty(t, execution.Errors)
	assert.Equal(t, models.KindInvalidInput, execution.AgentResults[0].ErrorKind)
}

func TestOrchestrator_Status(t *testing.T) {
	t.Parallel()

	orchestrator, _ := newTestOrchestrator(t, failingStage(models.StageExport, "no renderer"))

	execution, err := orchestrator.Run(context.Background(), runRequest())
	require.NoError(t, err)

	first, err := orchestrator.Status(context.Background(), execution.ID)
	require.NoError(t, err)

	second, err := orchestrator.Status(context.Background(), execution.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first.IsComplete)
	assert.Equal(t, 6, first.TotalSteps)
	assert.Equal(t, "export", first.CurrentStep)
	assert.Equal(t, models.Pipeline(), first.CompletedSteps)
	assert.Equal(t, []string{"export: no renderer"}, first.Errors)

	_, err = orchestrator.Status(context.Background(), "unknown")
	require.ErrorIs(t, err, statestore.ErrSessionNotFound)
}

func TestOrchestrator_CancelStopsBeforeNextStage(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})

	blocking := StageFunc{
		StageName: models.StageResearch,
		Fn: func(context.Context, models.StateView, models.StageContext) models.StageResult {
			close(started)
			<-release

			return models.Succeeded(models.StageResearch, map[string]any{"facts": []string{}})
		},
	}

	orchestrator, _ := newTestOrchestrator(t, blocking)

	req := runRequest()
	req.SessionID = "session-cancel"

	type outcome struct {
		execution *models.WorkflowExecution
		err       error
	}

	done := make(chan outcome, 1)

	go func() {
		execution, err := orchestrator.Run(context.Background(), req)
		done <- outcome{execution, err}
	}()

	<-started

	ok, err := orchestrator.Cancel(context.Background(), "session-cancel")
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := orchestrator.Status(context.Background(), "session-cancel")
	require.NoError(t, err)
	assert.True(t, status.CancelRequested)
	assert.False(t, status.IsComplete)

	close(release)

	result := <-done
	require.NoError(t, result.err)

	assert.Equal(t, models.ExecutionError, result.execution.State)
	require.Len(t, result.execution.AgentResults, 2)
	assert.True(t, result.execution.AgentResults[1].Success)
	assert.Contains(t, result.execution.Errors, "run cancelled before stage content")
	assert.Equal(t, "content", result.execution.Metadata["cancelled_before"])

	ok, err = orchestrator.Cancel(context.Background(), "session-cancel")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = orchestrator.Cancel(context.Background(), "never-started")
	require.NoError(t, err)
	assert.False(t, ok)
}

// finishingStore completes the run right before the cancel flag lands.
type finishingStore struct {
	statestore.Store
}

func (s finishingStore) RequestCancel(ctx context.Context, sessionID string) error {
	state, err := s.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	state.Complete = true

	if err := s.Save(ctx, state); err != nil {
		return err
	}

	return s.Store.RequestCancel(ctx, sessionID)
}

func TestOrchestrator_CancelLosesRaceWithCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := finishingStore{Store: memory.NewStore(0)}

	state := models.NewWorkflowState("pres-1", "alice", "session-race", nil, nil, nil)
	require.NoError(t, store.Save(ctx, state))

	orchestrator := NewOrchestrator(newTestRegistry(), DefaultGraph(0), testLogger(), WithStateStore(store))

	ok, err := orchestrator.Cancel(ctx, "session-race")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrchestrator_Run_CancelledContext(t *testing.T) {
	t.Parallel()

	orchestrator, _ := newTestOrchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	execution, err := orchestrator.Run(ctx, runRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionError, execution.State)
	assert.Empty(t, execution.AgentResults)
	require.Len(t, execution.Errors, 1)
	assert.Contains(t, execution.Errors[0], "run cancelled before stage plan")
}

func TestOrchestrator_Run_ConcurrentRunsAreIsolated(t *testing.T) {
	t.Parallel()

	orchestrator, store := newTestOrchestrator(t)

	const runs = 8

	var wg sync.WaitGroup

	executions := make([]*models.WorkflowExecution, runs)

	for i := range runs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			req := runRequest()
			req.PresentationID = fmt.Sprintf("pres-%d", i)

			execution, err := orchestrator.Run(context.Background(), req)
			assert.NoError(t, err)

			executions[i] = execution
		}()
	}

	wg.Wait()

	for i, execution := range executions {
		require.NotNil(t, execution)

		want := fmt.Sprintf("pres-%d", i)

		state, err := store.Load(context.Background(), execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.Pipeline(), state.CompletedSteps)

		research, ok := state.View().Map(models.SlotResearchData)
		require.True(t, ok)
		assert.Equal(t, want, research["presentation_id"])

		slides, ok := state.View().Slides()
		require.True(t, ok)
		assert.Equal(t, want, slides[0]["owner"])
	}
}

func TestOrchestrator_Run_GraphFaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		graph        *Graph
		expectedErr  error
		expectedCode string
		results      int
	}{
		{
			name:         "unregistered stage",
			graph:        NewGraph(models.StagePlan, "review"),
			expectedErr:  ErrUnknownStage,
			expectedCode: CodeUnknownStage,
			results:      1,
		},
		{
			name: "step budget exceeded",
			graph: NewGraph(models.StagePlan).
				Gate(models.StagePlan, "always", func(int, []string, models.StageResult) Decision { return Retry }, 1).
				WithMaxSteps(4),
			expectedErr:  ErrStepBudgetExceeded,
			expectedCode: CodeStepBudgetExceeded,
			results:      4,
		},
		{
			name: "panicking policy",
			graph: NewGraph(models.StagePlan, models.StageResearch).
				Gate(models.StagePlan, "broken", func(int, []string, models.StageResult) Decision { panic("bad policy") }, 1),
			expectedErr:  ErrOrchestrationFault,
			expectedCode: CodeOrchestrationFault,
			results:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := memory.NewStore(0)
			orchestrator := NewOrchestrator(newTestRegistry(), tt.graph, testLogger(), WithStateStore(store))

			execution, err := orchestrator.Run(context.Background(), runRequest())
			require.Error(t, err)
			require.ErrorIs(t, err, tt.expectedErr)
			assert.True(t, IsWorkflowError(err))

			var wfErr *WorkflowError
			require.ErrorAs(t, err, &wfErr)
			assert.Equal(t, tt.expectedCode, wfErr.Code)

			require.NotNil(t, execution)
			assert.Equal(t, models.ExecutionError, execution.State)
			assert.Len(t, execution.AgentResults, tt.results)

			status, err := orchestrator.Status(context.Background(), execution.ID)
			require.NoError(t, err)
			assert.True(t, status.IsComplete)
		})
	}
}

func TestOrchestrator_Run_StageTimeout(t *testing.T) {
	t.Parallel()

	slow := StageFunc{
		StageName: models.StageArchitecture,
		Fn: func(ctx context.Context, _ models.StateView, _ models.StageContext) models.StageResult {
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}

			return models.Succeeded(models.StageArchitecture, nil)
		},
	}

	orchestrator := NewOrchestrator(newTestRegistry(slow), DefaultGraph(3), testLogger(),
		WithStageTimeouts(map[models.StageName]time.Duration{models.StageArchitecture: 25 * time.Millisecond}))

	execution, err := orchestrator.Run(context.Background(), runRequest())
	require.NoError(t, err)

	result, ok := execution.ResultFor(models.StageArchitecture)
	require.True(t, ok)
	assert.Equal(t, models.KindTimeout, result.ErrorKind)
	assert.Len(t, execution.AgentResults, 6)
	assert.Equal(t, models.ExecutionError, execution.State)
}

func TestOrchestrator_PublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	defer bus.Close()

	var (
		mu   sync.Mutex
		seen []events.EventType
	)

	record := func(_ context.Context, event any) error {
		mu.Lock()
		defer mu.Unlock()

		seen = append(seen, event.(eventbus.Event).GetType())

		return nil
	}

	for _, eventType := range []events.EventType{
		events.GenerationStartedEvent, events.StageCompletedEvent, events.StageFailedEvent,
		events.GenerationCompletedEvent, events.GenerationFailedEvent,
	} {
		require.NoError(t, bus.Handle(eventType, record))
	}

	require.NoError(t, bus.Subscribe(ctx))

	orchestrator := NewOrchestrator(newTestRegistry(failingStage(models.StageExport, "disk full")), DefaultGraph(3),
		testLogger(), WithEventPublisher(bus))

	_, err = orchestrator.Run(ctx, runRequest())
	require.NoError(t, err)

	count := func(eventType events.EventType) int {
		mu.Lock()
		defer mu.Unlock()

		n := 0

		for _, e := range seen {
			if e == eventType {
				n++
			}
		}

		return n
	}

	require.Eventually(t, func() bool { return count(events.GenerationFailedEvent) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, count(events.GenerationStartedEvent))
	assert.Equal(t, 5, count(events.StageCompletedEvent))
	assert.Equal(t, 1, count(events.StageFailedEvent))
	assert.Equal(t, 0, count(events.GenerationCompletedEvent))
}

func TestOrchestrator_Stages(t *testing.T) {
	t.Parallel()

	orchestrator, _ := newTestOrchestrator(t)

	stages := orchestrator.Stages()
	require.Len(t, stages, 6)

	assert.Equal(t, models.StagePlan, stages[0].Name)
	assert.Equal(t, 1, stages[0].Position)
	assert.Equal(t, models.SlotPresentationPlan, stages[0].Slot)
	assert.Equal(t, "ceiling(3)", stages[0].RetryPolicy)
	assert.Equal(t, models.StageExport, stages[5].Name)
	assert.Empty(t, stages[5].RetryPolicy)
}
