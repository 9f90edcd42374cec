// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidDocument = errors.New("invalid document")
	ErrEmptyUserID     = errors.New("user ID cannot be empty")

	// Lookups (404 Not Found).
	ErrGenerationNotFound = errors.New("generation not found")
	ErrArtifactNotFound   = errors.New("artifact not found")

	// Business Logic Conflicts (409 Conflict).
	ErrGenerationInProgress = errors.New("generation still in progress")
	ErrGenerationFinished   = errors.New("generation already finished")

	// Capacity (503 Service Unavailable).
	ErrOverloaded = errors.New("too many concurrent generations")

	// Payload size (413 Request Entity Too Large).
	ErrDocumentTooLarge = errors.New("document too large")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrEmptyUserID)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrGenerationNotFound) ||
		errors.Is(err, ErrArtifactNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrGenerationInProgress) ||
		errors.Is(err, ErrGenerationFinished)
}

// IsOverloadedError reports whether the request was refused for lack of capacity.
func IsOverloadedError(err error) bool {
	return errors.Is(err, ErrOverloaded)
}

// IsTooLargeError reports whether an uploaded payload exceeded its limit.
func IsTooLargeError(err error) bool {
	return errors.Is(err, ErrDocumentTooLarge)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
