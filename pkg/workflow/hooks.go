package workflow

import (
	"github.com/dukex/deckflow/pkg/models"
)

// MetricsRecorder receives run and stage measurements.
type MetricsRecorder interface {
	StageAttempt(stage models.StageName, outcome string, seconds float64)
	RunStarted()
	RunFinished(state models.ExecutionState, seconds float64)
}

type nopMetrics struct{}

func (nopMetrics) StageAttempt(models.StageName, string, float64) {}
func (nopMetrics) RunStarted()                                    {}
func (nopMetrics) RunFinished(models.ExecutionState, float64)     {}

// stageOutcome labels an attempt for metrics and spans.
func stageOutcome(result models.StageResult) string {
	if result.Success {
		return "success"
	}

	return string(result.ErrorKind)
}
