package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/deckflow/pkg/eventbus"
	"github.com/dukex/deckflow/pkg/events"
	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/otelhelper"
	"github.com/dukex/deckflow/pkg/statestore"
	"github.com/dukex/deckflow/pkg/statestore/memory"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WorkflowVersion is stamped on every run's metadata.
const WorkflowVersion = "1.0"

// RunRequest carries the inputs of one generation run.
type RunRequest struct {
	// SessionID is generated when empty.
	SessionID        string
	PresentationID   string
	UserID           string
	SourceDocument   *models.SourceDocument
	UserRequirements models.Requirements
}

// Orchestrator drives the graph for each run and answers status and cancel requests.
type Orchestrator struct {
	graph     *Graph
	registry  *Registry
	executor  *Executor
	store     statestore.Store
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   MetricsRecorder
	metadata  map[string]any
}

type Option func(*Orchestrator)

func WithStateStore(store statestore.Store) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

func WithEventPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

func WithMetrics(metrics MetricsRecorder) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// WithStageTimeout sets the deadline of every stage attempt. Zero disables it.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.executor.timeout = d
	}
}

// WithStageTimeouts overrides the deadline of individual stages.
func WithStageTimeouts(timeouts map[models.StageName]time.Duration) Option {
	return func(o *Orchestrator) {
		maps.Copy(o.executor.stageTimeouts, timeouts)
	}
}

// WithMetadata adds entries to the metadata of every run.
func WithMetadata(metadata map[string]any) Option {
	return func(o *Orchestrator) {
		maps.Copy(o.metadata, metadata)
	}
}

func NewOrchestrator(registry *Registry, graph *Graph, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		graph:    graph,
		registry: registry,
		executor: NewExecutor(registry, logger),
		logger:   logger.With("module", "orchestrator"),
		tracer:   otelhelper.NoopTracer(),
		metrics:  nopMetrics{},
		metadata: map[string]any{},
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.store == nil {
		o.store = memory.NewStore(memory.DefaultTTL)
	}

	o.executor.tracer = o.tracer
	o.executor.metrics = o.metrics

	return o
}

// Run executes the graph to its terminal state. A non-nil error is always a *WorkflowError and
// is returned together with the ERROR execution recorded for the run.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*models.WorkflowExecution, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	metadata := maps.Clone(o.metadata)
	metadata["workflow_version"] = WorkflowVersion
	metadata["stages_count"] = len(o.graph.Order())

	state := models.NewWorkflowState(req.PresentationID, req.UserID, sessionID, req.SourceDocument, req.UserRequirements, metadata)

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.run",
		attribute.String(otelhelper.SessionIDKey, sessionID),
		attribute.String(otelhelper.PresentationIDKey, req.PresentationID),
		attribute.String(otelhelper.UserIDKey, req.UserID),
	)
	defer span.End()

	logger := o.logger.With("session_id", sessionID, "presentation_id", req.PresentationID)
	logger.InfoContext(ctx, "Starting workflow run")

	o.metrics.RunStarted()
	o.checkpoint(ctx, state)
	o.publish(ctx, sessionID, events.GenerationStarted{
		BaseEvent:    events.NewBaseEvent(events.GenerationStartedEvent, sessionID, req.PresentationID),
		UserID:       req.UserID,
		Requirements: state.UserRequirements,
		Stages:       stageNames(o.graph.Order()),
	})

	runErr := o.drive(ctx, state)
	execution := o.finish(ctx, state, runErr)

	span.SetAttributes(attribute.String(otelhelper.ExecutionStateKey, string(execution.State)))

	if runErr != nil {
		otelhelper.SetError(span, runErr)
		logger.ErrorContext(ctx, "Workflow run faulted", "error", runErr)

		return execution, runErr
	}

	logger.InfoContext(ctx, "Workflow run finished",
		"state", execution.State,
		"completed_steps", len(state.CompletedSteps),
		"errors", len(state.Errors),
		"duration_seconds", execution.TotalExecutionTime,
	)

	return execution, nil
}

func (o *Orchestrator) drive(ctx context.Context, state *models.WorkflowState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &WorkflowError{
				SessionID: state.SessionID,
				Code:      CodeOrchestrationFault,
				Err:       fmt.Errorf("%w: %v", ErrOrchestrationFault, r),
			}
		}
	}()

	current, err := o.graph.Entry()
	if err != nil {
		return &WorkflowError{SessionID: state.SessionID, Code: CodeInvalidTransition, Err: err}
	}

	for steps := 0; ; steps++ {
		if o.stopRequested(ctx, state.SessionID) {
			o.recordCancel(ctx, state, current)

			return nil
		}

		if steps >= o.graph.MaxSteps() {
			return &WorkflowError{
				SessionID: state.SessionID,
				Code:      CodeStepBudgetExceeded,
				Err:       fmt.Errorf("%w: %d attempts", ErrStepBudgetExceeded, steps),
			}
		}

		result, err := o.executor.Execute(ctx, state, current)
		if err != nil {
			return &WorkflowError{SessionID: state.SessionID, Code: CodeUnknownStage, Err: err}
		}

		o.checkpoint(ctx, state)
		o.publishStage(ctx, state, result)

		next, done, err := o.graph.Next(state, current, result)
		if err != nil {
			return &WorkflowError{SessionID: state.SessionID, Code: CodeInvalidTransition, Err: err}
		}

		if done {
			return nil
		}

		current = next
	}
}

func (o *Orchestrator) stopRequested(ctx context.Context, sessionID string) bool {
	if ctx.Err() != nil {
		return true
	}

	requested, err := o.store.CancelRequested(ctx, sessionID)
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to read cancel flag", "session_id", sessionID, "error", err)

		return false
	}

	return requested
}

func (o *Orchestrator) recordCancel(ctx context.Context, state *models.WorkflowState, pending models.StageName) {
	reason := fmt.Sprintf("run cancelled before stage %s", pending)
	if ctx.Err() != nil {
		reason = fmt.Sprintf("%s: %v", reason, ctx.Err())
	}

	state.Errors = append(state.Errors, reason)
	state.MergeMetadata(map[string]any{"cancelled": true, "cancelled_before": string(pending)})

	o.logger.InfoContext(ctx, "Workflow run cancelled", "session_id", state.SessionID, "pending_stage", pending)

	o.publish(ctx, state.SessionID, events.GenerationCancelled{
		BaseEvent:      events.NewBaseEvent(events.GenerationCancelledEvent, state.SessionID, state.PresentationID),
		PendingStage:   string(pending),
		CompletedSteps: len(state.CompletedSteps),
	})
}

func (o *Orchestrator) finish(ctx context.Context, state *models.WorkflowState, runErr error) *models.WorkflowExecution {
	if runErr != nil {
		state.Errors = append(state.Errors, runErr.Error())
	}

	state.Complete = true

	completedAt := time.Now().UTC()
	execState := models.ExecutionCompleted

	if len(state.Errors) > 0 {
		execState = models.ExecutionError
	}

	execution := &models.WorkflowExecution{
		ID:                 state.SessionID,
		PresentationID:     state.PresentationID,
		UserID:             state.UserID,
		State:              execState,
		AgentResults:       append([]models.StageResult{}, state.AgentResults...),
		Errors:             append([]string{}, state.Errors...),
		TotalExecutionTime: completedAt.Sub(state.StartTime).Seconds(),
		StartedAt:          state.StartTime,
		CompletedAt:        completedAt,
		Metadata:           maps.Clone(state.Metadata),
	}

	// The terminal checkpoint must land even when the run context is gone.
	o.checkpoint(context.WithoutCancel(ctx), state)
	o.metrics.RunFinished(execState, execution.TotalExecutionTime)

	base := events.NewBaseEvent(events.GenerationCompletedEvent, state.SessionID, state.PresentationID)
	if execution.Succeeded() {
		o.publish(ctx, state.SessionID, events.GenerationCompleted{
			BaseEvent:      base,
			ExecutionID:    execution.ID,
			CompletedSteps: len(state.CompletedSteps),
			DurationSecs:   execution.TotalExecutionTime,
		})

		return execution
	}

	base.Type = events.GenerationFailedEvent

	failed := events.GenerationFailed{
		BaseEvent:      base,
		ExecutionID:    execution.ID,
		CompletedSteps: len(state.CompletedSteps),
		Errors:         execution.Errors,
		DurationSecs:   execution.TotalExecutionTime,
	}

	var wfErr *WorkflowError
	if errors.As(runErr, &wfErr) {
		failed.Code = wfErr.Code
	}

	o.publish(ctx, state.SessionID, failed)

	return execution
}

func (o *Orchestrator) checkpoint(ctx context.Context, state *models.WorkflowState) {
	if err := o.store.Save(ctx, state); err != nil {
		o.logger.ErrorContext(ctx, "Failed to checkpoint workflow state", "session_id", state.SessionID, "error", err)
	}
}

func (o *Orchestrator) publishStage(ctx context.Context, state *models.WorkflowState, result models.StageResult) {
	attempt := state.Attempts(result.StageName)

	if result.Success {
		o.publish(ctx, state.SessionID, events.StageCompleted{
			BaseEvent:    events.NewBaseEvent(events.StageCompletedEvent, state.SessionID, state.PresentationID),
			Stage:        string(result.StageName),
			Attempt:      attempt,
			DurationSecs: result.ExecutionTime,
			Messages:     result.Messages,
		})

		return
	}

	o.publish(ctx, state.SessionID, events.StageFailed{
		BaseEvent:    events.NewBaseEvent(events.StageFailedEvent, state.SessionID, state.PresentationID),
		Stage:        string(result.StageName),
		Attempt:      attempt,
		Kind:         string(result.ErrorKind),
		Errors:       result.Errors,
		DurationSecs: result.ExecutionTime,
	})
}

func (o *Orchestrator) publish(ctx context.Context, key string, event eventbus.Event) {
	if o.publisher == nil {
		return
	}

	if err := o.publisher.Publish(context.WithoutCancel(ctx), key, event); err != nil {
		o.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// Status reports the last checkpoint of a session.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (models.StatusSnapshot, error) {
	state, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return models.StatusSnapshot{}, err
	}

	snapshot := state.Snapshot(len(o.graph.Order()))

	requested, err := o.store.CancelRequested(ctx, sessionID)
	if err != nil {
		return models.StatusSnapshot{}, err
	}

	snapshot.CancelRequested = requested

	return snapshot, nil
}

// Cancel asks a running session to stop before its next stage. It reports false when the
// session is unknown or has already finished; a stage already in flight always completes.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) (bool, error) {
	state, err := o.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, statestore.ErrSessionNotFound) {
			return false, nil
		}

		return false, err
	}

	if state.Complete {
		return false, nil
	}

	if err := o.store.RequestCancel(ctx, sessionID); err != nil {
		return false, err
	}

	// The run may have finished between the load and the flag write.
	state, err = o.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, statestore.ErrSessionNotFound) {
			return false, nil
		}

		return false, err
	}

	if state.Complete {
		return false, nil
	}

	o.logger.InfoContext(ctx, "Cancel requested", "session_id", sessionID, "current_step", state.CurrentStep)

	return true, nil
}

// Forget drops the live state of a session.
func (o *Orchestrator) Forget(ctx context.Context, sessionID string) error {
	return o.store.Delete(ctx, sessionID)
}

// Stages lists the graph's stages in execution order.
func (o *Orchestrator) Stages() []models.StageInfo {
	order := o.graph.Order()
	infos := make([]models.StageInfo, 0, len(order))

	for i, name := range order {
		info := models.StageInfo{
			Name:        name,
			Position:    i + 1,
			RetryPolicy: o.graph.PolicyName(name),
		}

		if d, ok := o.registry.Descriptor(name); ok {
			info.Description = d.Description
			info.Slot = d.Slot
		}

		infos = append(infos, info)
	}

	return infos
}

func stageNames(order []models.StageName) []string {
	names := make([]string, len(order))
	for i, name := range order {
		names[i] = string(name)
	}

	return names
}
