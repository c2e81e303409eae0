// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates a workflow execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("workflow execution not found")

	// ErrSessionNotFound indicates a research session was not found by the given identifier.
	ErrSessionNotFound = errors.New("research session not found")

	// ErrScriptNotFound indicates a script generation was not found by the given identifier.
	ErrScriptNotFound = errors.New("script generation not found")

	// ErrVideoTaskNotFound indicates a video generation task was not found by the given identifier.
	ErrVideoTaskNotFound = errors.New("video generation task not found")

	// ErrApprovalNotFound indicates a workflow approval was not found by the given identifier.
	ErrApprovalNotFound = errors.New("workflow approval not found")

	// ErrPublicationNotFound indicates a publication record was not found by the given identifier.
	ErrPublicationNotFound = errors.New("publication record not found")

	// ErrInvalidTransition indicates a status change that is not an edge of the
	// execution state machine.
	ErrInvalidTransition = errors.New("invalid workflow status transition")

	// ErrStaleVersion indicates a guarded write lost the race: the stored
	// version no longer matches the writer's snapshot.
	ErrStaleVersion = errors.New("workflow execution version is stale")

	// ErrApprovalAlreadyResolved indicates a decision was applied to an
	// approval that is no longer pending.
	ErrApprovalAlreadyResolved = errors.New("approval already resolved")

	// ErrActiveVideoTask indicates the execution already has a pending or
	// processing video task.
	ErrActiveVideoTask = errors.New("execution already has an active video task")

	// ErrSessionCompleted indicates a write against a completed, immutable
	// research session.
	ErrSessionCompleted = errors.New("research session is completed and immutable")

	// ErrExecutionNotTerminal indicates a delete against an execution that is
	// still running.
	ErrExecutionNotTerminal = errors.New("workflow execution is not in a terminal status")

	// ErrInvalidSortField indicates an unsupported sort column in a listing request.
	ErrInvalidSortField = errors.New("invalid sort field")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "GetByID", "Transition", "Delete")
	ExecutionID string // Execution ID if applicable
	Err         error  // Underlying error
	Message     string // Additional context message
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for execution %s: %s (%v)", e.Op, e.ExecutionID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// SessionError wraps research session errors with additional context.
type SessionError struct {
	Op        string // Operation being performed
	SessionID string // Session ID
	Err       error  // Underlying error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s operation failed for research session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (e *SessionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrScriptNotFound) ||
		errors.Is(err, ErrVideoTaskNotFound) ||
		errors.Is(err, ErrApprovalNotFound) ||
		errors.Is(err, ErrPublicationNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsInvalidTransition checks if an error indicates an illegal status change.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsStaleVersion checks if an error indicates a lost optimistic concurrency race.
func IsStaleVersion(err error) bool {
	return errors.Is(err, ErrStaleVersion)
}

// IsApprovalAlreadyResolved checks if an error indicates a repeated approval decision.
func IsApprovalAlreadyResolved(err error) bool {
	return errors.Is(err, ErrApprovalAlreadyResolved)
}

// IsActiveVideoTask checks if an error indicates a duplicate live render task.
func IsActiveVideoTask(err error) bool {
	return errors.Is(err, ErrActiveVideoTask)
}

// IsInvalidSortField checks if an error indicates an unsupported sort column.
func IsInvalidSortField(err error) bool {
	return errors.Is(err, ErrInvalidSortField)
}
