package persistence

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrExecutionNotFound indicates no execution exists for the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrArtifactNotFound indicates the execution has no artifact with the given name.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrInvalidID indicates an identifier or artifact name that is unsafe to store.
	ErrInvalidID = errors.New("invalid identifier")
)

var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$`)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "ExecutionByID", "SaveExecution")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// ValidateName rejects identifiers and file names that could escape their storage location.
func ValidateName(name string) error {
	if !safeName.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, name)
	}

	for i := 0; i+1 < len(name); i++ {
		if name[i] == '.' && name[i+1] == '.' {
			return fmt.Errorf("%w: %q", ErrInvalidID, name)
		}
	}

	return nil
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsArtifactNotFound checks if an error indicates an artifact was not found.
func IsArtifactNotFound(err error) bool {
	return errors.Is(err, ErrArtifactNotFound)
}
