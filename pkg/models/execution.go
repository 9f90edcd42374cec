package models

import "time"

// ExecutionState is the terminal state of a run.
type ExecutionState string

const (
	ExecutionCompleted ExecutionState = "COMPLETED"
	ExecutionError     ExecutionState = "ERROR"
)

// WorkflowExecution is the final record of a run.
type WorkflowExecution struct {
	ID                 string         `json:"id"`
	PresentationID     string         `json:"presentation_id"`
	UserID             string         `json:"user_id"`
	State              ExecutionState `json:"state"`
	AgentResults       []StageResult  `json:"agent_results"`
	Errors             []string       `json:"errors"`
	TotalExecutionTime float64        `json:"total_execution_time"`
	StartedAt          time.Time      `json:"started_at"`
	CompletedAt        time.Time      `json:"completed_at"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Succeeded reports whether the run completed without errors.
func (e *WorkflowExecution) Succeeded() bool {
	return e.State == ExecutionCompleted
}

// ResultFor returns the last result recorded for stage.
func (e *WorkflowExecution) ResultFor(stage StageName) (StageResult, bool) {
	for i := len(e.AgentResults) - 1; i >= 0; i-- {
		if e.AgentResults[i].StageName == stage {
			return e.AgentResults[i], true
		}
	}

	return StageResult{}, false
}

// Artifact is an exported presentation file.
type Artifact struct {
	ExecutionID string    `json:"execution_id"`
	Name        string    `json:"name"`
	Format      string    `json:"format"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	Data        []byte    `json:"-"`
}
