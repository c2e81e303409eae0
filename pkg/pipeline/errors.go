package pipeline

import (
	"errors"
	"fmt"
)

// ErrRenderTimeout marks a video task that exceeded the wall-clock render
// budget. It is distinguishable from a provider-reported failure so callers
// can treat timed-out renders as retryable with a fresh workflow.
var ErrRenderTimeout = errors.New("video render exceeded the time budget")

// ErrStaleArtifact marks an approval decision that references content the
// reviewer is no longer looking at.
var ErrStaleArtifact = errors.New("approval decision references superseded content")

// StageError attributes a failure to one stage of one execution. The message
// reaches the execution's error_message column, so it must stand alone.
type StageError struct {
	Stage       string
	ExecutionID string
	Err         error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed for execution %s: %v", e.Stage, e.ExecutionID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(stage, executionID string, err error) *StageError {
	return &StageError{Stage: stage, ExecutionID: executionID, Err: err}
}

// IsRenderTimeout reports whether the failure was the render time budget.
func IsRenderTimeout(err error) bool {
	return errors.Is(err, ErrRenderTimeout)
}

// IsStaleArtifact reports whether an approval decision lost to newer content.
func IsStaleArtifact(err error) bool {
	return errors.Is(err, ErrStaleArtifact)
}
