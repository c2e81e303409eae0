package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/otelhelper"
	"github.com/pipecast/pipecast/pkg/providers/social"
)

// RunPublish executes the publish stage: it claims approved → publishing,
// dispatches to every configured target platform concurrently, records one
// publication row per target, and completes the workflow. Platform failures
// are recorded per target and never abort the other targets; the workflow
// completes once every target has been attempted.
func (e *Engine) RunPublish(ctx context.Context, executionID string) error {
	ctx, span := e.startStageSpan(ctx, events.StagePublish, executionID)
	defer span.End()

	execution, claimed, err := e.claimStage(ctx, executionID,
		models.WorkflowStatusApproved, models.WorkflowStatusPublishing)
	if err != nil || !claimed {
		return err
	}

	logger := e.logger.With("execution_id", executionID, "stage", events.StagePublish)

	// The newest script is the reviewer-approved content: an approval with
	// edits inserts a manual_edit version after the generated one.
	script, err := e.persistence.ScriptRepository().LatestByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load script for execution %s: %w", executionID, err)
	}

	if script == nil {
		return e.failExecution(ctx, executionID, events.StagePublish,
			fmt.Errorf("no script available to publish"))
	}

	videoURL, err := e.approvedVideoURL(ctx, executionID)
	if err != nil {
		return err
	}

	// Re-entry after a crash mid-dispatch must not post again to platforms
	// that already succeeded.
	existing, err := e.persistence.PublicationRepository().ListByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load publication records for execution %s: %w", executionID, err)
	}

	done := make(map[string]*models.PublicationRecord, len(existing))

	for _, record := range existing {
		if record.Status == models.PublicationStatusPublished {
			done[record.Platform] = record
		}
	}

	records := e.dispatchAll(ctx, execution, script, videoURL, done)

	results := make(map[string]any, len(records)+1)
	published := 0

	for _, record := range records {
		entry := map[string]any{"status": string(record.Status)}

		if record.PostURL != "" {
			entry["post_url"] = record.PostURL
		}

		if record.ErrorMessage != "" {
			entry["error"] = record.ErrorMessage
		}

		results[record.Platform] = entry

		if record.Status == models.PublicationStatusPublished {
			published++
		}
	}

	results["published_count"] = published

	err = e.persistence.WorkflowRepository().TransitionWithResults(ctx, execution, models.WorkflowStatusCompleted, results)
	if discarded, saveErr := e.discardIfStale(ctx, executionID, err); discarded || saveErr != nil {
		return saveErr
	}

	logger.InfoContext(ctx, "Workflow completed",
		"published", published, "targets", len(execution.Config.Platforms))

	event := events.WorkflowCompleted{
		BaseEvent: events.NewBaseEvent(events.WorkflowCompletedEvent, executionID),
		Results:   results,
		Duration:  executionDuration(execution),
	}
	event.WorkerID = e.workerID

	return e.eventBus.Publish(ctx, executionID, event)
}

// dispatchAll publishes to every target platform with bounded concurrency and
// returns the persisted per-target records. Platforms in done are carried
// over untouched.
func (e *Engine) dispatchAll(ctx context.Context, execution *models.WorkflowExecution, script *models.ScriptGeneration, videoURL string, done map[string]*models.PublicationRecord) []*models.PublicationRecord {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	sem := make(chan struct{}, e.publishConcurrency)
	records := make([]*models.PublicationRecord, 0, len(execution.Config.Platforms))

	for _, platform := range execution.Config.Platforms {
		if record, ok := done[platform]; ok {
			records = append(records, record)

			continue
		}

		wg.Add(1)

		go func(platform string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			record := e.dispatchOne(ctx, execution, script, platform, videoURL)

			mu.Lock()
			records = append(records, record)
			mu.Unlock()
		}(platform)
	}

	wg.Wait()

	return records
}

// dispatchOne delivers to a single platform and upserts its publication row.
func (e *Engine) dispatchOne(ctx context.Context, execution *models.WorkflowExecution, script *models.ScriptGeneration, platform, videoURL string) *models.PublicationRecord {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "publish.dispatch",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.PlatformKey, platform),
	)
	defer span.End()

	logger := e.logger.With("execution_id", execution.ID, "platform", platform)

	record := &models.PublicationRecord{
		ExecutionID: execution.ID,
		Platform:    platform,
		Caption:     buildCaption(script, execution.Config.VideoRequested),
	}

	publisher, err := e.publishers.Get(platform)
	if err != nil {
		record.Status = models.PublicationStatusFailed
		record.ErrorMessage = err.Error()
	} else {
		result, err := publisher.Publish(ctx, social.PublishRequest{
			ExecutionID: execution.ID,
			Title:       script.Title,
			Caption:     record.Caption,
			VideoURL:    videoURL,
		})
		if err != nil {
			otelhelper.SetError(span, err)
			logger.ErrorContext(ctx, "Platform publish failed", "error", err)

			record.Status = models.PublicationStatusFailed
			record.ErrorMessage = err.Error()
		} else {
			now := time.Now().UTC()
			record.Status = models.PublicationStatusPublished
			record.PlatformRef = result.PlatformRef
			record.PostURL = result.PostURL
			record.PublishedAt = &now

			logger.InfoContext(ctx, "Published", "post_url", result.PostURL)
		}
	}

	err = e.persistence.PublicationRepository().Upsert(ctx, record)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to persist publication record", "error", err)
	}

	return record
}

// approvedVideoURL returns the video delivery URL for the execution, or empty
// for text-only workflows. The mirrored copy wins over the provider URL.
func (e *Engine) approvedVideoURL(ctx context.Context, executionID string) (string, error) {
	approval, err := e.persistence.ApprovalRepository().GetByExecution(ctx, executionID)
	if err != nil {
		return "", fmt.Errorf("failed to load approval for execution %s: %w", executionID, err)
	}

	if approval == nil || approval.VideoTaskID == "" {
		return "", nil
	}

	task, err := e.persistence.VideoTaskRepository().GetByID(ctx, approval.VideoTaskID)
	if err != nil {
		return "", fmt.Errorf("failed to load video task %s: %w", approval.VideoTaskID, err)
	}

	if task == nil {
		return "", nil
	}

	if task.MirroredURL != "" {
		return task.MirroredURL, nil
	}

	return task.VideoURL, nil
}

// buildCaption renders the platform caption from the script. Video posts lead
// with the hook; text posts carry the body itself. Per-platform length
// ceilings are applied by the adapters.
func buildCaption(script *models.ScriptGeneration, video bool) string {
	parts := make([]string, 0, 3)

	if video {
		if script.Hook != "" {
			parts = append(parts, script.Hook)
		}
	} else {
		parts = append(parts, script.Body)
	}

	if script.CallToAction != "" {
		parts = append(parts, script.CallToAction)
	}

	if len(script.Hashtags) > 0 {
		tags := make([]string, 0, len(script.Hashtags))

		for _, tag := range script.Hashtags {
			if !strings.HasPrefix(tag, "#") {
				tag = "#" + tag
			}

			tags = append(tags, tag)
		}

		parts = append(parts, strings.Join(tags, " "))
	}

	return strings.Join(parts, "\n\n")
}

func executionDuration(execution *models.WorkflowExecution) time.Duration {
	start := execution.CreatedAt
	if execution.StartedAt != nil {
		start = *execution.StartedAt
	}

	return time.Since(start)
}
