package persistence_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pipecast/pipecast/pkg/persistence"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		execErr := persistence.NewExecutionError("GetByID", "exec-123", persistence.ErrExecutionNotFound)
		staleErr := persistence.NewExecutionError("Transition", "exec-456", persistence.ErrStaleVersion)

		assert.True(t, persistence.IsExecutionNotFound(execErr))
		assert.True(t, persistence.IsStaleVersion(staleErr))
		assert.False(t, persistence.IsStaleVersion(execErr))

		// Test error unwrapping
		assert.True(t, errors.Is(execErr, persistence.ErrExecutionNotFound))
		assert.True(t, errors.Is(staleErr, persistence.ErrStaleVersion))
	})

	t.Run("execution error contains context", func(t *testing.T) {
		err := persistence.NewExecutionError("Transition", "exec-123", persistence.ErrInvalidTransition)

		assert.Contains(t, err.Error(), "Transition")
		assert.Contains(t, err.Error(), "exec-123")
		assert.Contains(t, err.Error(), "invalid workflow status transition")
	})

	t.Run("is not found spans entity sentinels", func(t *testing.T) {
		assert.True(t, persistence.IsNotFound(persistence.ErrExecutionNotFound))
		assert.True(t, persistence.IsNotFound(persistence.ErrApprovalNotFound))
		assert.True(t, persistence.IsNotFound(persistence.ErrVideoTaskNotFound))
		assert.False(t, persistence.IsNotFound(persistence.ErrStaleVersion))
		assert.False(t, persistence.IsNotFound(errors.New("unrelated")))
	})

	t.Run("session error wraps immutability sentinel", func(t *testing.T) {
		err := &persistence.SessionError{Op: "Update", SessionID: "session-9", Err: persistence.ErrSessionCompleted}

		assert.Contains(t, err.Error(), "session-9")
		assert.True(t, errors.Is(err, persistence.ErrSessionCompleted))
	})
}
