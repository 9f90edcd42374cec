package workflow

import (
	"fmt"

	"github.com/dukex/deckflow/pkg/models"
)

// Decision is what the graph does after a gated stage.
type Decision int

const (
	Continue Decision = iota
	Retry
	Abort
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Retry:
		return "retry"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// RetryPolicy decides the transition after a gated stage. attempts counts the stage's entries in
// completed_steps, errors is everything accumulated so far and last is the attempt just recorded.
type RetryPolicy func(attempts int, errors []string, last models.StageResult) Decision

// CeilingPolicy retries a failing stage until it has been attempted ceiling times. Input validation
// failures abort at once because the input does not change between attempts.
func CeilingPolicy(ceiling int) RetryPolicy {
	return func(attempts int, errors []string, last models.StageResult) Decision {
		if last.Success || len(errors) == 0 {
			return Continue
		}

		if !last.ErrorKind.Retryable() {
			return Abort
		}

		if attempts < ceiling {
			return Retry
		}

		return Abort
	}
}

// FailFastPolicy aborts the run on the first failure of the stage.
func FailFastPolicy() RetryPolicy {
	return func(_ int, _ []string, last models.StageResult) Decision {
		if last.Success {
			return Continue
		}

		return Abort
	}
}
