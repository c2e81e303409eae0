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

// videoGeneration walks a fresh execution to the render stage and returns it
// with the script the render consumes.
func videoGeneration(ctx context.Context, t *testing.T, p *postgresql.Persistence) (*models.WorkflowExecution, *models.ScriptGeneration) {
	t.Helper()

	execution := createExecution(ctx, t, p)
	advanceExecution(ctx, t, p, execution,
		models.WorkflowStatusResearching,
		models.WorkflowStatusAnalyzing,
		models.WorkflowStatusScriptGeneration,
		models.WorkflowStatusVideoGeneration,
	)

	script := createScript(ctx, t, p, execution.ID)

	return execution, script
}

func TestVideoTaskRepository_CreateAndGet(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution, script := videoGeneration(ctx, t, p)

	task := &models.VideoGenerationTask{
		ExecutionID: execution.ID,
		ScriptID:    script.ID,
		AvatarID:    "avatar-amelia",
		VoiceID:     "voice-en-us-1",
		AspectRatio: "9:16",
	}

	err := p.VideoTaskRepository().Create(ctx, task)
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.VideoTaskStatusPending, task.Status)

	retrieved, err := p.VideoTaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, execution.ID, retrieved.ExecutionID)
	assert.Equal(t, script.ID, retrieved.ScriptID)
	assert.Equal(t, "avatar-amelia", retrieved.AvatarID)
	assert.Equal(t, "9:16", retrieved.AspectRatio)
	assert.Empty(t, retrieved.ProviderTaskID)

	notFound, err := p.VideoTaskRepository().GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, notFound)
}

func TestVideoTaskRepository_SingleActiveTaskPerExecution(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution, script := videoGeneration(ctx, t, p)

	first := &models.VideoGenerationTask{ExecutionID: execution.ID, ScriptID: script.ID}

	err := p.VideoTaskRepository().Create(ctx, first)
	require.NoError(t, err)

	second := &models.VideoGenerationTask{ExecutionID: execution.ID, ScriptID: script.ID}

	err = p.VideoTaskRepository().Create(ctx, second)
	require.Error(t, err)
	assert.True(t, persistence.IsActiveVideoTask(err))

	active, err := p.VideoTaskRepository().GetActiveByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)
}

func TestVideoTaskRepository_UpdateRecordsProviderSubmission(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution, script := videoGeneration(ctx, t, p)

	task := &models.VideoGenerationTask{ExecutionID: execution.ID, ScriptID: script.ID}

	err := p.VideoTaskRepository().Create(ctx, task)
	require.NoError(t, err)

	now := time.Now().UTC()
	task.ProviderTaskID = "prov-20260825-0001"
	task.Status = models.VideoTaskStatusProcessing
	task.SubmittedAt = &now
	task.LastPolledAt = &now

	err = p.VideoTaskRepository().Update(ctx, task)
	require.NoError(t, err)

	retrieved, err := p.VideoTaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, "prov-20260825-0001", retrieved.ProviderTaskID)
	assert.Equal(t, models.VideoTaskStatusProcessing, retrieved.Status)
	assert.NotNil(t, retrieved.SubmittedAt)
	assert.NotNil(t, retrieved.LastPolledAt)

	missing := &models.VideoGenerationTask{
		ID:          uuid.NewString(),
		ExecutionID: execution.ID,
		ScriptID:    script.ID,
		Status:      models.VideoTaskStatusProcessing,
	}

	err = p.VideoTaskRepository().Update(ctx, missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrVideoTaskNotFound)
}

func TestVideoTaskRepository_CompleteVideoStage(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution, script := videoGeneration(ctx, t, p)

	task := &models.VideoGenerationTask{
		ExecutionID: execution.ID,
		ScriptID:    script.ID,
		Status:      models.VideoTaskStatusProcessing,
	}

	err := p.VideoTaskRepository().Create(ctx, task)
	require.NoError(t, err)

	now := time.Now().UTC()
	task.Status = models.VideoTaskStatusCompleted
	task.VideoURL = "https://provider.example.com/renders/abc.mp4"
	task.MirroredURL = "https://cdn.example.com/videos/abc.mp4"
	task.DurationSeconds = 34.5
	task.CompletedAt = &now

	approval := &models.WorkflowApproval{
		ExecutionID:  execution.ID,
		ScriptID:     script.ID,
		ArtifactHash: script.ArtifactHash,
	}

	err = p.VideoTaskRepository().CompleteVideoStage(ctx, execution, task, approval, models.WorkflowStatusAwaitingApproval)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusAwaitingApproval, execution.Status)
	assert.Equal(t, task.ID, approval.VideoTaskID)

	stored, err := p.ApprovalRepository().GetByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, task.ID, stored.VideoTaskID)
	assert.Equal(t, models.ApprovalStatusPending, stored.Status)

	retrieved, err := p.VideoTaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, models.VideoTaskStatusCompleted, retrieved.Status)
	assert.Equal(t, "https://cdn.example.com/videos/abc.mp4", retrieved.MirroredURL)
	assert.InDelta(t, 34.5, retrieved.DurationSeconds, 0.001)

	// A finished render frees the execution for a future retry task
	active, err := p.VideoTaskRepository().GetActiveByExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestVideoTaskRepository_FailVideoStageFailsExecution(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution, script := videoGeneration(ctx, t, p)

	task := &models.VideoGenerationTask{
		ExecutionID: execution.ID,
		ScriptID:    script.ID,
		Status:      models.VideoTaskStatusProcessing,
	}

	err := p.VideoTaskRepository().Create(ctx, task)
	require.NoError(t, err)

	err = p.VideoTaskRepository().FailVideoStage(ctx, execution, task, "render rejected by provider")
	require.NoError(t, err)

	retrievedTask, err := p.VideoTaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, retrievedTask)
	assert.Equal(t, models.VideoTaskStatusFailed, retrievedTask.Status)
	assert.Equal(t, "render rejected by provider", retrievedTask.ErrorMessage)
	assert.NotNil(t, retrievedTask.CompletedAt)

	retrievedExecution, err := p.WorkflowRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, retrievedExecution)
	assert.Equal(t, models.WorkflowStatusFailed, retrievedExecution.Status)
	assert.Equal(t, "render rejected by provider", retrievedExecution.ErrorMessage)
	assert.NotNil(t, retrievedExecution.CompletedAt)
}
