package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes reported by stages.
const (
	CodeInsufficientInput = "INSUFFICIENT_INPUT_DATA"
	CodeInvalidSlideCount = "INVALID_SLIDE_COUNT"
	CodeMissingUpstream   = "MISSING_UPSTREAM_DATA"
	CodeGenerationFailed  = "GENERATION_FAILED"
	CodeStagePanic        = "STAGE_PANIC"
	CodeStageTimeout      = "STAGE_TIMEOUT"
	CodeRunCancelled      = "RUN_CANCELLED"
)

var (
	// ErrMissingInput indicates the run has nothing to build a presentation from.
	ErrMissingInput = errors.New("missing input")

	// ErrInvalidSlideCount indicates the requested slide count exceeds the allowed maximum.
	ErrInvalidSlideCount = errors.New("invalid slide count")

	// ErrMissingUpstream indicates a prior stage did not leave usable output.
	ErrMissingUpstream = errors.New("missing upstream data")

	// ErrRunCancelled indicates the run was cancelled before the stage started.
	ErrRunCancelled = errors.New("run cancelled")
)

// StageError carries the classification of a stage failure.
type StageError struct {
	Stage   StageName
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *StageError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	default:
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInputError creates a non-retryable validation failure.
func NewInputError(stage StageName, code, message string, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindInvalidInput, Code: code, Message: message, Err: err}
}

// NewStageError creates a retryable failure reported by the stage itself.
func NewStageError(stage StageName, code, message string, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindStageFailed, Code: code, Message: message, Err: err}
}

// MissingUpstream reports that the stage cannot run because slot is unusable.
func MissingUpstream(stage StageName, slot Slot) *StageError {
	return NewStageError(stage, CodeMissingUpstream, fmt.Sprintf("no %s available", slot), ErrMissingUpstream)
}

// KindOf classifies err. Errors without a classification are stage failures.
func KindOf(err error) ErrorKind {
	var stageErr *StageError
	if errors.As(err, &stageErr) && stageErr.Kind != "" {
		return stageErr.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrRunCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindStageFailed
	}
}

// CodeOf returns the code attached to err, if any.
func CodeOf(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Code
	}

	return ""
}
