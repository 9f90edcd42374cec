package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStage indicates the graph referenced a stage that is not registered.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrInvalidTransition indicates the graph could not determine the next stage.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStepBudgetExceeded indicates the run attempted more stages than the graph allows.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")

	// ErrOrchestrationFault wraps a panic recovered outside a stage invocation.
	ErrOrchestrationFault = errors.New("orchestration fault")
)

// WorkflowError is a graph-level fault returned from Orchestrator.Run.
type WorkflowError struct {
	SessionID string
	Code      string
	Err       error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow %s failed: %v", e.SessionID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsWorkflowError reports whether err is a graph-level fault.
func IsWorkflowError(err error) bool {
	var wfErr *WorkflowError

	return errors.As(err, &wfErr)
}

// Codes attached to WorkflowError.
const (
	CodeUnknownStage       = "UNKNOWN_STAGE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeStepBudgetExceeded = "STEP_BUDGET_EXCEEDED"
	CodeOrchestrationFault = "ORCHESTRATION_FAULT"
)
