package postgresql_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
	"github.com/pipecast/pipecast/pkg/persistence/postgresql"
)

// awaitingApproval walks a fresh execution to the review gate and returns it
// with its script and pending approval.
func awaitingApproval(ctx context.Context, t *testing.T, p *postgresql.Persistence) (*models.WorkflowExecution, *models.ScriptGeneration, *models.WorkflowApproval) {
	t.Helper()

	execution := createExecution(ctx, t, p)
	advanceExecution(ctx, t, p, execution,
		models.WorkflowStatusResearching,
		models.WorkflowStatusAnalyzing,
		models.WorkflowStatusScriptGeneration,
	)

	script := &models.ScriptGeneration{
		ExecutionID:  execution.ID,
		Title:        "Generics three years in",
		Body:         "The debate was louder than the change.",
		ArtifactHash: "sha256:" + uuid.NewString(),
	}

	approval := &models.WorkflowApproval{
		ExecutionID:  execution.ID,
		ArtifactHash: script.ArtifactHash,
	}

	err := p.ScriptRepository().SaveScriptStage(ctx, execution, script, approval, models.WorkflowStatusAwaitingApproval)
	require.NoError(t, err)

	return execution, script, approval
}

func TestApprovalRepository_ResolveApproves(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution, script, approval := awaitingApproval(ctx, t, p)

	approval.Status = models.ApprovalStatusApproved
	approval.Approver = "reviewer@example.com"
	approval.Feedback = "ship it"

	err := p.ApprovalRepository().Resolve(ctx, execution, approval, nil, models.WorkflowStatusApproved)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusApproved, execution.Status)
	require.NotNil(t, approval.ResolvedAt)

	stored, err := p.ApprovalRepository().GetByID(ctx, approval.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.ApprovalStatusApproved, stored.Status)
	assert.Equal(t, "reviewer@example.com", stored.Approver)
	assert.Equal(t, "ship it", stored.Feedback)
	assert.Equal(t, script.ID, stored.ScriptID)
	assert.NotNil(t, stored.ResolvedAt)

	retrieved, err := p.WorkflowRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, models.WorkflowStatusApproved, retrieved.Status)
}

func TestApprovalRepository_ResolveRejects(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution, _, approval := awaitingApproval(ctx, t, p)

	approval.Status = models.ApprovalStatusRejected
	approval.Approver = "reviewer@example.com"
	approval.Feedback = "hook is too weak, angle is stale"

	err := p.ApprovalRepository().Resolve(ctx, execution, approval, nil, models.WorkflowStatusRejected)
	require.NoError(t, err)

	retrieved, err := p.WorkflowRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, models.WorkflowStatusRejected, retrieved.Status)
	assert.NotNil(t, retrieved.CompletedAt)

	// Rejection is terminal, nothing may move the execution afterwards
	err = p.WorkflowRepository().Transition(ctx, retrieved, models.WorkflowStatusPublishing)
	require.Error(t, err)
	assert.True(t, persistence.IsInvalidTransition(err))
}

func TestApprovalRepository_ResolveTwiceFails(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution, _, approval := awaitingApproval(ctx, t, p)

	approval.Status = models.ApprovalStatusApproved
	approval.Approver = "reviewer@example.com"

	err := p.ApprovalRepository().Resolve(ctx, execution, approval, nil, models.WorkflowStatusApproved)
	require.NoError(t, err)

	err = p.ApprovalRepository().Resolve(ctx, execution, approval, nil, models.WorkflowStatusApproved)
	require.Error(t, err)
	assert.True(t, persistence.IsApprovalAlreadyResolved(err))
}

func TestApprovalRepository_ResolveWithEditedScript(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution, original, approval := awaitingApproval(ctx, t, p)

	edited := &models.ScriptGeneration{
		ExecutionID:  execution.ID,
		Origin:       models.ScriptOriginManualEdit,
		Title:        original.Title,
		Body:         "The debate was louder than the change. Here is what actually happened.",
		ArtifactHash: "sha256:" + uuid.NewString(),
		CreatedAt:    original.CreatedAt.Add(time.Minute),
	}

	approval.Status = models.ApprovalStatusApproved
	approval.Approver = "reviewer@example.com"

	err := p.ApprovalRepository().Resolve(ctx, execution, approval, edited, models.WorkflowStatusApproved)
	require.NoError(t, err)

	// The decision now points at the reviewer's version
	assert.Equal(t, edited.ID, approval.ScriptID)
	assert.Equal(t, edited.ArtifactHash, approval.ArtifactHash)

	stored, err := p.ApprovalRepository().GetByID(ctx, approval.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, edited.ID, stored.ScriptID)
	assert.Equal(t, edited.ArtifactHash, stored.ArtifactHash)

	latest, err := p.ScriptRepository().LatestByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, edited.ID, latest.ID)
	assert.Equal(t, models.ScriptOriginManualEdit, latest.Origin)

	// The original script remains as audit history
	scripts, err := p.ScriptRepository().ListByExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Len(t, scripts, 2)
}

func TestApprovalRepository_ListPendingOldestFirst(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	_, _, older := awaitingApproval(ctx, t, p)

	time.Sleep(10 * time.Millisecond)

	_, _, newer := awaitingApproval(ctx, t, p)

	resolvedExecution, _, resolved := awaitingApproval(ctx, t, p)
	resolved.Status = models.ApprovalStatusApproved
	resolved.Approver = models.AutoApprover

	err := p.ApprovalRepository().Resolve(ctx, resolvedExecution, resolved, nil, models.WorkflowStatusApproved)
	require.NoError(t, err)

	pending, err := p.ApprovalRepository().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID)
	assert.Equal(t, newer.ID, pending[1].ID)
}
