package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStageTimeout bounds a single stage attempt.
const DefaultStageTimeout = 60 * time.Second

// Executor invokes stages and is the only writer of WorkflowState.
type Executor struct {
	registry      *Registry
	logger        *slog.Logger
	tracer        trace.Tracer
	metrics       MetricsRecorder
	timeout       time.Duration
	stageTimeouts map[models.StageName]time.Duration
}

func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	return &Executor{
		registry:      registry,
		logger:        logger.With("module", "stage_executor"),
		tracer:        otelhelper.NoopTracer(),
		metrics:       nopMetrics{},
		timeout:       DefaultStageTimeout,
		stageTimeouts: make(map[models.StageName]time.Duration),
	}
}

func (e *Executor) timeoutFor(stage models.StageName) time.Duration {
	if d, ok := e.stageTimeouts[stage]; ok {
		return d
	}

	return e.timeout
}

// Execute runs one attempt of stage against state and records the outcome. Stage failures,
// panics and timeouts come back as a failed result; the error is only set when stage is not
// registered.
func (e *Executor) Execute(ctx context.Context, state *models.WorkflowState, stage models.StageName) (models.StageResult, error) {
	entry, err := e.registry.lookup(stage)
	if err != nil {
		return models.StageResult{}, err
	}

	sctx := models.StageContext{
		Stage:          stage,
		StageID:        entry.id,
		SessionID:      state.SessionID,
		UserID:         state.UserID,
		PresentationID: state.PresentationID,
		Attempt:        state.Attempts(stage) + 1,
		Timestamp:      time.Now().UTC(),
		Metadata:       maps.Clone(state.Metadata),
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "stage."+string(stage),
		attribute.String(otelhelper.SessionIDKey, state.SessionID),
		attribute.String(otelhelper.StageNameKey, string(stage)),
		attribute.Int(otelhelper.StageAttemptKey, sctx.Attempt),
	)
	defer span.End()

	logger := e.logger.With("session_id", state.SessionID, "stage", stage, "attempt", sctx.Attempt)
	logger.DebugContext(ctx, "Starting stage")

	view := state.View()

	start := time.Now()
	result := e.invoke(ctx, entry.stage, view, sctx)
	elapsed := time.Since(start)

	result = normalize(stage, result, elapsed)
	apply(state, stage, entry.descriptor, result)

	outcome := stageOutcome(result)
	span.SetAttributes(attribute.String(otelhelper.StageOutcomeKey, outcome))
	e.metrics.StageAttempt(stage, outcome, result.ExecutionTime)

	if result.Success {
		logger.InfoContext(ctx, "Stage completed", "duration", elapsed)
	} else {
		otelhelper.SetFailure(span, result.Errors[0], attribute.String(otelhelper.ErrorKindKey, string(result.ErrorKind)))
		logger.WarnContext(ctx, "Stage failed",
			"duration", elapsed,
			"kind", result.ErrorKind,
			"errors", result.Errors,
		)
	}

	return result, nil
}

func (e *Executor) invoke(ctx context.Context, stage Stage, view models.StateView, sctx models.StageContext) models.StageResult {
	name := stage.Name()
	timeout := e.timeoutFor(name)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)

	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan models.StageResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.ErrorContext(ctx, "Stage panicked", "stage", name, "panic", r)
				done <- models.Failed(name, &models.StageError{
					Stage:   name,
					Kind:    models.KindStageFault,
					Code:    models.CodeStagePanic,
					Message: fmt.Sprintf("unexpected fault: %v", r),
				})
			}
		}()

		done <- stage.Execute(runCtx, view, sctx)
	}()

	select {
	case result := <-done:
		return result
	case <-runCtx.Done():
	}

	// A result that raced the deadline still wins.
	select {
	case result := <-done:
		return result
	default:
	}

	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return models.Failed(name, &models.StageError{
			Stage:   name,
			Kind:    models.KindTimeout,
			Code:    models.CodeStageTimeout,
			Message: fmt.Sprintf("did not finish within %s", timeout),
			Err:     context.DeadlineExceeded,
		})
	}

	return models.Failed(name, &models.StageError{
		Stage:   name,
		Kind:    models.KindCancelled,
		Code:    models.CodeRunCancelled,
		Message: "run context ended during the stage",
		Err:     ctx.Err(),
	})
}

// normalize enforces the result contract: executor-measured timing, empty data on failure and
// at least one error message on failure.
func normalize(stage models.StageName, result models.StageResult, elapsed time.Duration) models.StageResult {
	result.StageName = stage
	result.ExecutionTime = elapsed.Seconds()

	if result.Messages == nil {
		result.Messages = []string{}
	}

	if result.Errors == nil {
		result.Errors = []string{}
	}

	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}

	if result.Success {
		result.ErrorKind = ""

		if result.Data == nil {
			result.Data = map[string]any{}
		}

		return result
	}

	result.Data = map[string]any{}

	if len(result.Errors) == 0 {
		result.Errors = []string{fmt.Sprintf("%s: failed without reporting an error", stage)}
	}

	if result.ErrorKind == "" {
		result.ErrorKind = models.KindStageFailed
	}

	return result
}

func apply(state *models.WorkflowState, stage models.StageName, descriptor Descriptor, result models.StageResult) {
	state.CompletedSteps = append(state.CompletedSteps, stage)
	state.CurrentStep = string(stage)
	state.AgentResults = append(state.AgentResults, result)

	if !result.Success {
		state.Errors = append(state.Errors, result.Errors...)

		return
	}

	if descriptor.Slot == "" {
		return
	}

	if state.Outputs == nil {
		state.Outputs = map[models.Slot]any{}
	}

	var value any = result.Data
	if descriptor.SlotKey != "" {
		value = result.Data[descriptor.SlotKey]
	}

	state.Outputs[descriptor.Slot] = value
}
