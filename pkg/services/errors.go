// Package services implements the caller-facing operations: starting and
// controlling workflow executions, resolving approvals, standalone research
// sessions, and publication record queries. Stage execution itself lives in
// pkg/pipeline; services only create work and answer questions about it.
package services

import (
	"errors"
	"fmt"

	"github.com/pipecast/pipecast/pkg/persistence"
	"github.com/pipecast/pipecast/pkg/pipeline"
)

// Not-found conditions reuse the persistence sentinels so a single errors.Is
// covers both layers.
var (
	ErrExecutionNotFound = persistence.ErrExecutionNotFound
	ErrApprovalNotFound  = persistence.ErrApprovalNotFound
	ErrSessionNotFound   = persistence.ErrSessionNotFound
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrInvalidStatus    = errors.New("invalid workflow status")
)

// Business logic conflicts (409 Conflict).
var (
	// ErrExecutionNotCancellable indicates a cancel against an execution that
	// already reached a terminal status.
	ErrExecutionNotCancellable = errors.New("workflow execution already ended")

	// ErrExecutionStillRunning indicates a retry or delete against an
	// execution that has not reached a terminal status yet.
	ErrExecutionStillRunning = errors.New("workflow execution is still running")
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
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus)
}

// IsConflictError checks if an error is a state conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionNotCancellable) ||
		errors.Is(err, ErrExecutionStillRunning) ||
		persistence.IsApprovalAlreadyResolved(err) ||
		pipeline.IsStaleArtifact(err)
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
