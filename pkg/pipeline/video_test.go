package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/providers"
	"github.com/pipecast/pipecast/pkg/providers/videogen"
	"github.com/pipecast/pipecast/pkg/storage"
)

func completedStatus() *videogen.TaskStatus {
	return &videogen.TaskStatus{
		State:           videogen.StateCompleted,
		VideoURL:        "https://render.example/video.mp4",
		ThumbnailURL:    "https://render.example/thumb.jpg",
		DurationSeconds: 34.5,
	}
}

func failedStatus(message string) *videogen.TaskStatus {
	return &videogen.TaskStatus{State: videogen.StateFailed, Error: message}
}

type fakeMediaStore struct {
	result *storage.MirrorResult
	err    error
	calls  int
}

func (m *fakeMediaStore) Mirror(_ context.Context, _, _ string) (*storage.MirrorResult, error) {
	m.calls++

	if m.err != nil {
		return nil, m.err
	}

	return m.result, nil
}

func (f *fixture) runToVideoStage(t *testing.T, cfg models.ExecutionConfig) *models.WorkflowExecution {
	t.Helper()

	ctx := context.Background()
	execution := f.startExecution(t, cfg)

	require.NoError(t, f.engine.RunResearch(ctx, execution.ID))
	require.NoError(t, f.engine.RunAnalysis(ctx, execution.ID))
	require.NoError(t, f.engine.RunScript(ctx, execution.ID))

	reloaded := f.reload(t, execution.ID)
	require.Equal(t, models.WorkflowStatusVideoGeneration, reloaded.Status)

	return reloaded
}

func (f *fixture) activeTask(t *testing.T, executionID string) *models.VideoGenerationTask {
	t.Helper()

	task, err := f.persist.VideoTaskRepository().GetActiveByExecution(context.Background(), executionID)
	require.NoError(t, err)
	require.NotNil(t, task)

	return task
}

func TestVideoSubmitsExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	execution := f.runToVideoStage(t, testConfig(true))
	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))

	task := f.activeTask(t, execution.ID)
	assert.Equal(t, models.VideoTaskStatusProcessing, task.Status)
	assert.Equal(t, "render-1", task.ProviderTaskID)
	assert.NotNil(t, task.SubmittedAt)
	assert.Equal(t, 1, f.renderer.submitCount())
	assert.Equal(t, 1, f.scheduler.pollCount())

	// A redelivered stage event must not render twice; it only makes sure
	// polling is still scheduled.
	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))
	assert.Equal(t, 1, f.renderer.submitCount())
	assert.Equal(t, 2, f.scheduler.pollCount())
}

func TestVideoSubmitUsesConfiguredAvatar(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	cfg := testConfig(true)
	cfg.AvatarID = "avatar-9"
	cfg.VoiceID = "voice-3"
	cfg.AspectRatio = "9:16"

	execution := f.runToVideoStage(t, cfg)
	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))

	task := f.activeTask(t, execution.ID)
	assert.Equal(t, "avatar-9", task.AvatarID)
	assert.Equal(t, "voice-3", task.VoiceID)
	assert.Equal(t, "9:16", task.AspectRatio)
}

func TestVideoTransientSubmitFailureRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.renderer.submitErr = providers.NewError("videogen", "Submit", 503, "overloaded")

	execution := f.runToVideoStage(t, testConfig(true))

	err := f.engine.RunVideo(ctx, execution.ID)
	require.Error(t, err)

	var stageErr *StageError

	require.ErrorAs(t, err, &stageErr)

	// The task row exists but carries no provider id, so the redelivered
	// event resubmits safely.
	task := f.activeTask(t, execution.ID)
	assert.Equal(t, models.VideoTaskStatusPending, task.Status)
	assert.Empty(t, task.ProviderTaskID)

	f.renderer.submitErr = nil

	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))
	assert.Equal(t, 1, f.renderer.submitCount())
	assert.Equal(t, models.VideoTaskStatusProcessing, f.activeTask(t, execution.ID).Status)
}

func TestVideoPermanentSubmitFailureFailsWorkflow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.renderer.submitErr = providers.NewError("videogen", "Submit", 400, "unknown avatar")

	execution := f.runToVideoStage(t, testConfig(true))
	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))

	reloaded := f.reload(t, execution.ID)
	assert.Equal(t, models.WorkflowStatusFailed, reloaded.Status)
	assert.Contains(t, reloaded.ErrorMessage, "video")
	assert.Contains(t, reloaded.ErrorMessage, "unknown avatar")
}

func TestVideoPollReschedulesWhileProcessing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	execution := f.runToVideoStage(t, testConfig(true))
	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))

	task := f.activeTask(t, execution.ID)
	require.NoError(t, f.engine.PollVideo(ctx, task.ID))

	polled := f.activeTask(t, execution.ID)
	assert.Equal(t, models.VideoTaskStatusProcessing, polled.Status)
	assert.NotNil(t, polled.LastPolledAt)
	assert.Equal(t, 2, f.scheduler.pollCount())
	assert.Equal(t, models.WorkflowStatusVideoGeneration, f.reload(t, execution.ID).Status)
}

func TestVideoPollCompletionParksAtApproval(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	execution := f.runToVideoStage(t, testConfig(true))
	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))

	task := f.activeTask(t, execution.ID)

	f.renderer.setStatus(completedStatus())
	require.NoError(t, f.engine.PollVideo(ctx, task.ID))

	stored, err := f.persist.VideoTaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.VideoTaskStatusCompleted, stored.Status)
	assert.Equal(t, "https://render.example/video.mp4", stored.VideoURL)
	assert.NotNil(t, stored.CompletedAt)

	assert.Equal(t, models.WorkflowStatusAwaitingApproval, f.reload(t, execution.ID).Status)

	approval := f.pendingApproval(t, execution.ID)
	assert.Equal(t, task.ID, approval.VideoTaskID)
	assert.Len(t, f.bus.ofType(events.ApprovalRequestedEvent), 1)

	// Exactly one render for the whole stage.
	assert.Equal(t, 1, f.renderer.submitCount())

	// A late duplicate poll sees the terminal task and does nothing.
	pollsBefore := f.scheduler.pollCount()
	require.NoError(t, f.engine.PollVideo(ctx, task.ID))
	assert.Equal(t, pollsBefore, f.scheduler.pollCount())
}

func TestVideoPollMirrorsRender(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	media := &fakeMediaStore{result: &storage.MirrorResult{
		Key: "media/x/y.mp4",
		URL: "https://cdn.example/media/x/y.mp4",
	}}
	f.engine.media = media

	execution := f.runToVideoStage(t, testConfig(true))
	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))

	task := f.activeTask(t, execution.ID)

	f.renderer.setStatus(completedStatus())
	require.NoError(t, f.engine.PollVideo(ctx, task.ID))

	stored, err := f.persist.VideoTaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "https://cdn.example/media/x/y.mp4", stored.MirroredURL)
	assert.Equal(t, 1, media.calls)
}

func TestVideoPollFailureFailsTaskAndWorkflow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	execution := f.runToVideoStage(t, testConfig(true))
	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))

	task := f.activeTask(t, execution.ID)

	f.renderer.setStatus(failedStatus("avatar render crashed"))
	require.NoError(t, f.engine.PollVideo(ctx, task.ID))

	stored, err := f.persist.VideoTaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.VideoTaskStatusFailed, stored.Status)

	reloaded := f.reload(t, execution.ID)
	assert.Equal(t, models.WorkflowStatusFailed, reloaded.Status)
	assert.Contains(t, reloaded.ErrorMessage, "avatar render crashed")
}

func TestVideoPollEnforcesRenderBudget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	execution := f.runToVideoStage(t, testConfig(true))
	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))

	task := f.activeTask(t, execution.ID)

	expired := time.Now().Add(-f.engine.maxRenderTime - time.Minute).UTC()
	task.SubmittedAt = &expired
	require.NoError(t, f.persist.VideoTaskRepository().Update(ctx, task))

	require.NoError(t, f.engine.PollVideo(ctx, task.ID))

	stored, err := f.persist.VideoTaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.VideoTaskStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "time budget")

	assert.Equal(t, models.WorkflowStatusFailed, f.reload(t, execution.ID).Status)
}

func TestVideoPollAbandonsEndedWorkflow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	execution := f.runToVideoStage(t, testConfig(true))
	require.NoError(t, f.engine.RunVideo(ctx, execution.ID))

	task := f.activeTask(t, execution.ID)
	require.NoError(t, f.persist.WorkflowRepository().Cancel(ctx, execution.ID))

	require.NoError(t, f.engine.PollVideo(ctx, task.ID))

	stored, err := f.persist.VideoTaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.VideoTaskStatusFailed, stored.Status)

	// The cancelled workflow keeps its terminal state.
	assert.Equal(t, models.WorkflowStatusCancelled, f.reload(t, execution.ID).Status)
}
