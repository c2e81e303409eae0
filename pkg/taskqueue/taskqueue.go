// Package taskqueue carries the pipeline's delayed work over asynq: video
// render poll ticks and fixed-time publish dispatches. The event bus moves
// stage-to-stage handoffs; everything that needs a clock goes through here.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names, namespaced by concern.
const (
	TaskTypeVideoPoll        = "video:poll"
	TaskTypeScheduledPublish = "publish:scheduled"
)

// VideoPollPayload asks the worker to check one render task.
type VideoPollPayload struct {
	VideoTaskID string `json:"video_task_id"`
}

// ScheduledPublishPayload dispatches publishing for an approved execution at
// its fixed publish time.
type ScheduledPublishPayload struct {
	ExecutionID string `json:"execution_id"`
}

// Client enqueues delayed tasks. It satisfies the pipeline's Scheduler
// interface.
type Client struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewClient wraps an asynq client over the given redis connection.
func NewClient(redisOpt asynq.RedisClientOpt, logger *slog.Logger) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		logger: logger.With("module", "taskqueue"),
	}
}

// EnqueueVideoPoll schedules one poll tick for a render task.
func (c *Client) EnqueueVideoPoll(ctx context.Context, videoTaskID string, delay time.Duration) error {
	payload, err := json.Marshal(VideoPollPayload{VideoTaskID: videoTaskID})
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", TaskTypeVideoPoll, err)
	}

	_, err = c.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeVideoPoll, payload), asynq.ProcessIn(delay))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s for task %s: %w", TaskTypeVideoPoll, videoTaskID, err)
	}

	c.logger.DebugContext(ctx, "Video poll scheduled", "video_task_id", videoTaskID, "delay", delay)

	return nil
}

// EnqueueScheduledPublish schedules the publish dispatch of an approved
// execution at a fixed time. Enqueueing the same execution twice is harmless:
// the publish stage claim is guarded by the state machine.
func (c *Client) EnqueueScheduledPublish(ctx context.Context, executionID string, at time.Time) error {
	payload, err := json.Marshal(ScheduledPublishPayload{ExecutionID: executionID})
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", TaskTypeScheduledPublish, err)
	}

	_, err = c.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeScheduledPublish, payload), asynq.ProcessAt(at))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s for execution %s: %w", TaskTypeScheduledPublish, executionID, err)
	}

	c.logger.InfoContext(ctx, "Publish scheduled", "execution_id", executionID, "publish_at", at)

	return nil
}

// Close releases the underlying asynq client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Handlers is the pipeline surface the queue drives.
type Handlers interface {
	PollVideo(ctx context.Context, videoTaskID string) error
	RunPublish(ctx context.Context, executionID string) error
}

// NewServeMux registers the task handlers. Returned errors make asynq retry
// with backoff, which covers transient persistence and provider failures; the
// handlers themselves absorb everything that must not retry.
func NewServeMux(handlers Handlers, logger *slog.Logger) *asynq.ServeMux {
	logger = logger.With("module", "taskqueue")

	mux := asynq.NewServeMux()

	mux.HandleFunc(TaskTypeVideoPoll, func(ctx context.Context, task *asynq.Task) error {
		var payload VideoPollPayload

		err := json.Unmarshal(task.Payload(), &payload)
		if err != nil {
			return fmt.Errorf("invalid %s payload: %v: %w", TaskTypeVideoPoll, err, asynq.SkipRetry)
		}

		logger.DebugContext(ctx, "Processing video poll", "video_task_id", payload.VideoTaskID)

		return handlers.PollVideo(ctx, payload.VideoTaskID)
	})

	mux.HandleFunc(TaskTypeScheduledPublish, func(ctx context.Context, task *asynq.Task) error {
		var payload ScheduledPublishPayload

		err := json.Unmarshal(task.Payload(), &payload)
		if err != nil {
			return fmt.Errorf("invalid %s payload: %v: %w", TaskTypeScheduledPublish, err, asynq.SkipRetry)
		}

		logger.InfoContext(ctx, "Processing scheduled publish", "execution_id", payload.ExecutionID)

		return handlers.RunPublish(ctx, payload.ExecutionID)
	})

	return mux
}
