package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

func newExecution(t *testing.T, p persistence.Persistence) *models.WorkflowExecution {
	t.Helper()

	execution := &models.WorkflowExecution{
		OwnerID: "test-user",
		Kind:    "topic_to_video",
		Config: models.ExecutionConfig{
			Topic:     "WASM on the server",
			Sources:   []string{models.SourceDevForum},
			Platforms: []string{models.PlatformTikTok},
			Timing:    models.TimingImmediate,
		},
	}

	err := p.WorkflowRepository().Create(t.Context(), execution)
	require.NoError(t, err)

	return execution
}

func TestPersistence_HealthCheckAndClose(t *testing.T) {
	p := NewPersistence()

	assert.NoError(t, p.HealthCheck(t.Context()))
	assert.NoError(t, p.Close(t.Context()))
}

func TestWorkflowRepository_LifecycleRoundTrip(t *testing.T) {
	p := NewPersistence()

	execution := newExecution(t, p)
	assert.Equal(t, models.WorkflowStatusPending, execution.Status)
	assert.Equal(t, 0, execution.Version)

	stale := *execution

	err := p.WorkflowRepository().Transition(t.Context(), execution, models.WorkflowStatusResearching)
	require.NoError(t, err)
	assert.Equal(t, 1, execution.Version)
	assert.NotNil(t, execution.StartedAt)

	// The snapshot taken before the transition lost the race
	err = p.WorkflowRepository().Transition(t.Context(), &stale, models.WorkflowStatusResearching)
	require.Error(t, err)
	assert.True(t, persistence.IsStaleVersion(err))

	// Skipping stages is rejected
	err = p.WorkflowRepository().Transition(t.Context(), execution, models.WorkflowStatusPublishing)
	require.Error(t, err)
	assert.True(t, persistence.IsInvalidTransition(err))

	err = p.WorkflowRepository().Delete(t.Context(), execution.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrExecutionNotTerminal)

	err = p.WorkflowRepository().Fail(t.Context(), execution.ID, "collector crashed")
	require.NoError(t, err)

	retrieved, err := p.WorkflowRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, models.WorkflowStatusFailed, retrieved.Status)
	assert.Equal(t, "collector crashed", retrieved.ErrorMessage)
	assert.NotNil(t, retrieved.CompletedAt)

	err = p.WorkflowRepository().Cancel(t.Context(), execution.ID)
	require.Error(t, err)
	assert.True(t, persistence.IsInvalidTransition(err))

	err = p.WorkflowRepository().Delete(t.Context(), execution.ID)
	require.NoError(t, err)

	gone, err := p.WorkflowRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestWorkflowRepository_ListExecutions(t *testing.T) {
	p := NewPersistence()

	first := newExecution(t, p)
	second := newExecution(t, p)

	err := p.WorkflowRepository().Cancel(t.Context(), second.ID)
	require.NoError(t, err)

	result, err := p.WorkflowRepository().ListExecutions(t.Context(), persistence.ListExecutionsOptions{
		Limit:  1,
		SortBy: "created_at",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.Len(t, result.Executions, 1)
	assert.True(t, result.HasNextPage)

	cancelled := models.WorkflowStatusCancelled
	result, err = p.WorkflowRepository().ListExecutions(t.Context(), persistence.ListExecutionsOptions{
		Limit:  10,
		Status: &cancelled,
		SortBy: "created_at",
	})
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, second.ID, result.Executions[0].ID)

	result, err = p.WorkflowRepository().ListExecutions(t.Context(), persistence.ListExecutionsOptions{
		Limit:   10,
		OwnerID: "test-user",
		SortBy:  "created_at",
	})
	require.NoError(t, err)
	require.Len(t, result.Executions, 2)
	assert.Equal(t, first.ID, result.Executions[1].ID) // desc by default

	_, err = p.WorkflowRepository().ListExecutions(t.Context(), persistence.ListExecutionsOptions{
		Limit:  10,
		SortBy: "topic",
	})
	require.Error(t, err)
	assert.True(t, persistence.IsInvalidSortField(err))
}

func TestResearchRepository_CollectionAndAnalysis(t *testing.T) {
	p := NewPersistence()

	execution := newExecution(t, p)

	err := p.WorkflowRepository().Transition(t.Context(), execution, models.WorkflowStatusResearching)
	require.NoError(t, err)

	sessions := []*models.ResearchSession{
		{
			ExecutionID:  &execution.ID,
			Source:       models.SourceDevForum,
			Query:        execution.Config.Topic,
			Status:       models.ResearchSessionStatusRunning,
			ResultsCount: 1,
			RawData:      []models.RawItem{{Title: "WASI preview 2 shipped"}},
		},
	}

	// Stale execution snapshots abort the whole write
	stale := *execution
	stale.Version++

	err = p.ResearchRepository().SaveCollectionResults(t.Context(), &stale, sessions, models.WorkflowStatusAnalyzing)
	require.Error(t, err)
	assert.True(t, persistence.IsStaleVersion(err))

	orphans, err := p.ResearchRepository().ListByExecution(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	err = p.ResearchRepository().SaveCollectionResults(t.Context(), execution, sessions, models.WorkflowStatusAnalyzing)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusAnalyzing, execution.Status)

	insights := &models.ResearchInsights{Summary: "Server side WASM is maturing", KeyThemes: []string{"wasi"}}

	err = p.ResearchRepository().CompleteAnalysis(t.Context(), execution, insights, models.WorkflowStatusScriptGeneration)
	require.NoError(t, err)

	stored, err := p.ResearchRepository().ListByExecution(t.Context(), execution.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.ResearchSessionStatusCompleted, stored[0].Status)
	require.NotNil(t, stored[0].Insights)
	assert.Equal(t, "Server side WASM is maturing", stored[0].Insights.Summary)

	// Completed sessions are immutable
	stored[0].ResultsCount = 99

	err = p.ResearchRepository().Update(t.Context(), stored[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrSessionCompleted)
}

func TestScriptRepository_SaveScriptStage(t *testing.T) {
	p := NewPersistence()

	execution := newExecution(t, p)

	err := p.WorkflowRepository().Transition(t.Context(), execution, models.WorkflowStatusResearching)
	require.NoError(t, err)
	err = p.WorkflowRepository().Transition(t.Context(), execution, models.WorkflowStatusAnalyzing)
	require.NoError(t, err)
	err = p.WorkflowRepository().Transition(t.Context(), execution, models.WorkflowStatusScriptGeneration)
	require.NoError(t, err)

	script := &models.ScriptGeneration{
		ExecutionID:  execution.ID,
		Title:        "WASM everywhere",
		Body:         "The server is the new browser.",
		ArtifactHash: "sha256:abc",
	}

	approval := &models.WorkflowApproval{ExecutionID: execution.ID, ArtifactHash: script.ArtifactHash}

	err = p.ScriptRepository().SaveScriptStage(t.Context(), execution, script, approval, models.WorkflowStatusAwaitingApproval)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusAwaitingApproval, execution.Status)
	assert.Equal(t, script.ID, approval.ScriptID)

	latest, err := p.ScriptRepository().LatestByExecution(t.Context(), execution.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, script.ID, latest.ID)

	pending, err := p.ApprovalRepository().ListPending(t.Context())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestVideoTaskRepository_SingleActiveTask(t *testing.T) {
	p := NewPersistence()

	execution := newExecution(t, p)

	task := &models.VideoGenerationTask{ExecutionID: execution.ID, ScriptID: "script-1"}

	err := p.VideoTaskRepository().Create(t.Context(), task)
	require.NoError(t, err)

	err = p.VideoTaskRepository().Create(t.Context(), &models.VideoGenerationTask{
		ExecutionID: execution.ID,
		ScriptID:    "script-1",
	})
	require.Error(t, err)
	assert.True(t, persistence.IsActiveVideoTask(err))

	active, err := p.VideoTaskRepository().GetActiveByExecution(t.Context(), execution.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, task.ID, active.ID)

	// A terminal task frees the slot
	task.Status = models.VideoTaskStatusFailed

	err = p.VideoTaskRepository().Update(t.Context(), task)
	require.NoError(t, err)

	err = p.VideoTaskRepository().Create(t.Context(), &models.VideoGenerationTask{
		ExecutionID: execution.ID,
		ScriptID:    "script-1",
	})
	assert.NoError(t, err)
}

func TestApprovalRepository_ResolveOnce(t *testing.T) {
	p := NewPersistence()

	execution := newExecution(t, p)

	for _, status := range []models.WorkflowStatus{
		models.WorkflowStatusResearching,
		models.WorkflowStatusAnalyzing,
		models.WorkflowStatusScriptGeneration,
		models.WorkflowStatusAwaitingApproval,
	} {
		err := p.WorkflowRepository().Transition(t.Context(), execution, status)
		require.NoError(t, err)
	}

	approval := &models.WorkflowApproval{
		ExecutionID:  execution.ID,
		ScriptID:     "script-1",
		ArtifactHash: "sha256:abc",
	}

	err := p.ApprovalRepository().Create(t.Context(), approval)
	require.NoError(t, err)

	approval.Status = models.ApprovalStatusApproved
	approval.Approver = "reviewer@example.com"

	err = p.ApprovalRepository().Resolve(t.Context(), execution, approval, nil, models.WorkflowStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusApproved, execution.Status)
	assert.NotNil(t, approval.ResolvedAt)

	err = p.ApprovalRepository().Resolve(t.Context(), execution, approval, nil, models.WorkflowStatusApproved)
	require.Error(t, err)
	assert.True(t, persistence.IsApprovalAlreadyResolved(err))
}

func TestPublicationRepository_UpsertAndRefresh(t *testing.T) {
	p := NewPersistence()

	execution := newExecution(t, p)

	record := &models.PublicationRecord{
		ExecutionID: execution.ID,
		Platform:    models.PlatformTikTok,
	}

	err := p.PublicationRepository().Upsert(t.Context(), record)
	require.NoError(t, err)

	now := time.Now().UTC()
	retry := &models.PublicationRecord{
		ExecutionID: execution.ID,
		Platform:    models.PlatformTikTok,
		Status:      models.PublicationStatusPublished,
		PlatformRef: "tt-1",
		PublishedAt: &now,
	}

	err = p.PublicationRepository().Upsert(t.Context(), retry)
	require.NoError(t, err)
	assert.Equal(t, record.ID, retry.ID)

	records, err := p.PublicationRepository().ListByExecution(t.Context(), execution.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.PublicationStatusPublished, records[0].Status)

	due, err := p.PublicationRepository().ListForEngagementRefresh(t.Context(), time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	err = p.PublicationRepository().UpdateEngagement(t.Context(), record.ID, models.Engagement{Views: 10}, time.Now().UTC())
	require.NoError(t, err)

	refreshed, err := p.PublicationRepository().GetByID(t.Context(), record.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.Equal(t, int64(10), refreshed.Engagement.Views)
	assert.NotNil(t, refreshed.EngagementRefreshedAt)
}

func TestStoredRowsAreIsolatedFromCallers(t *testing.T) {
	p := NewPersistence()

	execution := newExecution(t, p)

	retrieved, err := p.WorkflowRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	// Mutating a returned copy must not leak into the store
	retrieved.Config.Sources[0] = "tampered"
	retrieved.OwnerID = "tampered"

	fresh, err := p.WorkflowRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, "test-user", fresh.OwnerID)
	assert.Equal(t, models.SourceDevForum, fresh.Config.Sources[0])
}
