package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/otelhelper"
	"github.com/pipecast/pipecast/pkg/persistence"
	"github.com/pipecast/pipecast/pkg/providers"
	"github.com/pipecast/pipecast/pkg/providers/videogen"
)

// RunVideo executes the video generation stage: it creates the durable task
// row, submits the render, and schedules the first poll. The stage does not
// block on the render; PollVideo carries it to completion.
//
// A redelivered stage event on an already-submitted task only reschedules
// polling. A pending row without a provider task id means the previous worker
// died before the provider acknowledged, so resubmitting is safe.
func (e *Engine) RunVideo(ctx context.Context, executionID string) error {
	ctx, span := e.startStageSpan(ctx, events.StageVideo, executionID)
	defer span.End()

	execution, claimed, err := e.claimStage(ctx, executionID,
		models.WorkflowStatusVideoGeneration, models.WorkflowStatusVideoGeneration)
	if err != nil || !claimed {
		return err
	}

	logger := e.logger.With("execution_id", executionID, "stage", events.StageVideo)

	task, err := e.persistence.VideoTaskRepository().GetActiveByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load video task for execution %s: %w", executionID, err)
	}

	if task != nil && task.ProviderTaskID != "" {
		logger.InfoContext(ctx, "Render already submitted, rescheduling poll", "task_id", task.ID)

		return e.scheduler.EnqueueVideoPoll(ctx, task.ID, e.pollInterval)
	}

	script, err := e.persistence.ScriptRepository().LatestByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load script for execution %s: %w", executionID, err)
	}

	if script == nil {
		return e.failExecution(ctx, executionID, events.StageVideo,
			fmt.Errorf("no script available to render"))
	}

	if task == nil {
		task = e.newVideoTask(execution, script)

		err = e.persistence.VideoTaskRepository().Create(ctx, task)
		if err != nil {
			// Lost a create race with a concurrent worker; the winner owns
			// the submission.
			if persistence.IsActiveVideoTask(err) {
				logger.InfoContext(ctx, "Active video task already exists", "execution_id", executionID)

				return nil
			}

			return fmt.Errorf("failed to create video task: %w", err)
		}
	}

	providerTaskID, err := e.renderer.Submit(ctx, videogen.Submission{
		Script:      spokenText(script),
		AvatarID:    task.AvatarID,
		VoiceID:     task.VoiceID,
		AspectRatio: task.AspectRatio,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		if providers.IsTransient(err) {
			return newStageError(events.StageVideo, executionID, err)
		}

		return e.failVideoTask(ctx, execution, task, fmt.Sprintf("render submission rejected: %v", err))
	}

	now := time.Now().UTC()
	task.ProviderTaskID = providerTaskID
	task.Status = models.VideoTaskStatusProcessing
	task.SubmittedAt = &now

	err = e.persistence.VideoTaskRepository().Update(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to record render submission: %w", err)
	}

	logger.InfoContext(ctx, "Render submitted", "task_id", task.ID, "provider_task_id", providerTaskID)

	return e.scheduler.EnqueueVideoPoll(ctx, task.ID, e.pollInterval)
}

// PollVideo handles one poll tick for a render task. Still-processing tasks
// reschedule themselves; terminal provider states finish the stage. The tick
// chain also enforces the wall-clock render budget.
func (e *Engine) PollVideo(ctx context.Context, videoTaskID string) error {
	task, err := e.persistence.VideoTaskRepository().GetByID(ctx, videoTaskID)
	if err != nil {
		return fmt.Errorf("failed to load video task %s: %w", videoTaskID, err)
	}

	if task == nil {
		e.logger.WarnContext(ctx, "Poll for unknown video task", "task_id", videoTaskID)

		return nil
	}

	if task.Status.IsTerminal() {
		return nil
	}

	ctx, span := e.startStageSpan(ctx, events.StageVideo, task.ExecutionID)
	defer span.End()

	logger := e.logger.With("execution_id", task.ExecutionID, "task_id", task.ID)

	execution, err := e.persistence.WorkflowRepository().GetByID(ctx, task.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", task.ExecutionID, err)
	}

	if execution == nil || execution.Status.IsTerminal() {
		logger.InfoContext(ctx, "Abandoning render, workflow is no longer active")

		return e.failVideoTask(ctx, execution, task, "workflow ended before the render finished")
	}

	status, err := e.renderer.Status(ctx, task.ProviderTaskID)
	if err != nil {
		otelhelper.SetError(span, err)

		if providers.IsTransient(err) {
			logger.WarnContext(ctx, "Render status unavailable, will poll again", "error", err)

			return e.reschedulePoll(ctx, task)
		}

		return e.failVideoTask(ctx, execution, task, fmt.Sprintf("render status lookup failed: %v", err))
	}

	switch status.State {
	case videogen.StateCompleted:
		return e.completeRender(ctx, execution, task, status)
	case videogen.StateFailed:
		message := status.Error
		if message == "" {
			message = "provider reported the render failed"
		}

		return e.failVideoTask(ctx, execution, task, message)
	default:
		if task.SubmittedAt != nil && time.Since(*task.SubmittedAt) > e.maxRenderTime {
			return e.failVideoTask(ctx, execution, task,
				fmt.Sprintf("%v (%s)", ErrRenderTimeout, e.maxRenderTime))
		}

		return e.reschedulePoll(ctx, task)
	}
}

// completeRender mirrors the finished video, persists the task completion
// together with the approval checkpoint and the transition to review, and
// announces the checkpoint.
func (e *Engine) completeRender(ctx context.Context, execution *models.WorkflowExecution, task *models.VideoGenerationTask, status *videogen.TaskStatus) error {
	logger := e.logger.With("execution_id", execution.ID, "task_id", task.ID)

	mirroredURL, err := e.mirrorRender(ctx, execution.ID, status.VideoURL)
	if err != nil {
		if providers.IsTransient(err) {
			logger.WarnContext(ctx, "Mirror failed, will retry on next poll", "error", err)

			return e.reschedulePoll(ctx, task)
		}

		// The provider URL still works for a while; publish from it rather
		// than failing a finished render.
		logger.WarnContext(ctx, "Mirror rejected the video, publishing will use the provider URL", "error", err)
	}

	script, err := e.persistence.ScriptRepository().LatestByExecution(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to load script for execution %s: %w", execution.ID, err)
	}

	if script == nil {
		return e.failExecution(ctx, execution.ID, events.StageVideo,
			fmt.Errorf("render finished but no script exists for review"))
	}

	now := time.Now().UTC()
	task.Status = models.VideoTaskStatusCompleted
	task.VideoURL = status.VideoURL
	task.ThumbnailURL = status.ThumbnailURL
	task.MirroredURL = mirroredURL
	task.DurationSeconds = status.DurationSeconds
	task.CompletedAt = &now

	approval := newApproval(execution.ID, script)
	approval.VideoTaskID = task.ID

	err = e.persistence.VideoTaskRepository().CompleteVideoStage(ctx, execution, task, approval, models.WorkflowStatusAwaitingApproval)
	if discarded, saveErr := e.discardIfStale(ctx, execution.ID, err); discarded || saveErr != nil {
		return saveErr
	}

	logger.InfoContext(ctx, "Render completed", "duration_seconds", status.DurationSeconds, "mirrored", mirroredURL != "")

	return e.requestApproval(ctx, execution, approval)
}

// mirrorRender copies the provider video into owned storage. Without a media
// store the provider URL is used as-is.
func (e *Engine) mirrorRender(ctx context.Context, executionID, videoURL string) (string, error) {
	if e.media == nil || videoURL == "" {
		return "", nil
	}

	result, err := e.media.Mirror(ctx, executionID, videoURL)
	if err != nil {
		return "", err
	}

	return result.URL, nil
}

// failVideoTask records the task failure and fails the owning execution in
// the same write. Executions that already ended keep their terminal state.
func (e *Engine) failVideoTask(ctx context.Context, execution *models.WorkflowExecution, task *models.VideoGenerationTask, message string) error {
	e.logger.ErrorContext(ctx, "Video task failed",
		"execution_id", task.ExecutionID, "task_id", task.ID, "error", message)

	if execution == nil {
		task.Status = models.VideoTaskStatusFailed
		task.ErrorMessage = message

		return e.persistence.VideoTaskRepository().Update(ctx, task)
	}

	err := e.persistence.VideoTaskRepository().FailVideoStage(ctx, execution, task,
		fmt.Sprintf("stage %s: %s", events.StageVideo, message))
	if err != nil {
		return fmt.Errorf("failed to record video failure: %w", err)
	}

	event := events.WorkflowFailed{
		BaseEvent: events.NewBaseEvent(events.WorkflowFailedEvent, execution.ID),
		Stage:     events.StageVideo,
		Error:     message,
	}
	event.WorkerID = e.workerID

	return e.eventBus.Publish(ctx, execution.ID, event)
}

func (e *Engine) reschedulePoll(ctx context.Context, task *models.VideoGenerationTask) error {
	now := time.Now().UTC()
	task.LastPolledAt = &now

	err := e.persistence.VideoTaskRepository().Update(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to record poll: %w", err)
	}

	return e.scheduler.EnqueueVideoPoll(ctx, task.ID, e.pollInterval)
}

func (e *Engine) newVideoTask(execution *models.WorkflowExecution, script *models.ScriptGeneration) *models.VideoGenerationTask {
	cfg := execution.Config

	avatarID := cfg.AvatarID
	if avatarID == "" {
		avatarID = e.defaultAvatarID
	}

	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = e.defaultVoiceID
	}

	return &models.VideoGenerationTask{
		ExecutionID: execution.ID,
		ScriptID:    script.ID,
		AvatarID:    avatarID,
		VoiceID:     voiceID,
		AspectRatio: cfg.AspectRatio,
		Status:      models.VideoTaskStatusPending,
	}
}

// spokenText assembles the narration handed to the renderer.
func spokenText(script *models.ScriptGeneration) string {
	parts := make([]string, 0, 3)

	for _, part := range []string{script.Hook, script.Body, script.CallToAction} {
		if part != "" {
			parts = append(parts, part)
		}
	}

	return strings.Join(parts, "\n\n")
}
