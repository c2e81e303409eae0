// Package pipeline implements the worker-side stage engine. Each stage
// handler is re-entrant: it reloads the execution, claims the stage through
// the state machine, performs provider work, and persists the transition
// together with the stage output before announcing the next stage on the
// event bus. Duplicate or stale deliveries degrade to no-ops because every
// write is guarded by the execution version.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pipecast/pipecast/pkg/eventbus"
	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/otelhelper"
	"github.com/pipecast/pipecast/pkg/persistence"
	"github.com/pipecast/pipecast/pkg/providers"
	"github.com/pipecast/pipecast/pkg/providers/research"
	"github.com/pipecast/pipecast/pkg/providers/social"
	"github.com/pipecast/pipecast/pkg/providers/textgen"
	"github.com/pipecast/pipecast/pkg/providers/videogen"
	"github.com/pipecast/pipecast/pkg/storage"
)

// Scheduler enqueues the delayed work the engine cannot do inline: video
// poll ticks and fixed-time publish dispatches.
type Scheduler interface {
	EnqueueVideoPoll(ctx context.Context, videoTaskID string, delay time.Duration) error
	EnqueueScheduledPublish(ctx context.Context, executionID string, at time.Time) error
}

const (
	defaultPollInterval       = 15 * time.Second
	defaultMaxRenderTime      = 30 * time.Minute
	defaultPublishConcurrency = 3
)

// Deps carries the engine's collaborators. Media may be nil when no mirror
// bucket is configured; every other field is required.
type Deps struct {
	Logger      *slog.Logger
	Persistence persistence.Persistence
	EventBus    eventbus.EventPublisher
	Collectors  *research.Registry
	Generator   textgen.Generator
	Renderer    videogen.Renderer
	Publishers  *social.Registry
	Media       storage.MediaStore
	Scheduler   Scheduler
	Tracer      trace.Tracer
	WorkerID    string

	VideoPollInterval  time.Duration
	MaxRenderTime      time.Duration
	DefaultAvatarID    string
	DefaultVoiceID     string
	PublishConcurrency int
}

// Engine executes workflow stages.
type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	collectors  *research.Registry
	generator   textgen.Generator
	renderer    videogen.Renderer
	publishers  *social.Registry
	media       storage.MediaStore
	scheduler   Scheduler
	tracer      trace.Tracer
	workerID    string

	pollInterval       time.Duration
	maxRenderTime      time.Duration
	defaultAvatarID    string
	defaultVoiceID     string
	publishConcurrency int
}

// NewEngine creates a stage engine, applying defaults for the timing knobs.
func NewEngine(deps Deps) *Engine {
	if deps.VideoPollInterval <= 0 {
		deps.VideoPollInterval = defaultPollInterval
	}

	if deps.MaxRenderTime <= 0 {
		deps.MaxRenderTime = defaultMaxRenderTime
	}

	if deps.PublishConcurrency <= 0 {
		deps.PublishConcurrency = defaultPublishConcurrency
	}

	return &Engine{
		logger:             deps.Logger.With("module", "pipeline"),
		persistence:        deps.Persistence,
		eventBus:           deps.EventBus,
		collectors:         deps.Collectors,
		generator:          deps.Generator,
		renderer:           deps.Renderer,
		publishers:         deps.Publishers,
		media:              deps.Media,
		scheduler:          deps.Scheduler,
		tracer:             deps.Tracer,
		workerID:           deps.WorkerID,
		pollInterval:       deps.VideoPollInterval,
		maxRenderTime:      deps.MaxRenderTime,
		defaultAvatarID:    deps.DefaultAvatarID,
		defaultVoiceID:     deps.DefaultVoiceID,
		publishConcurrency: deps.PublishConcurrency,
	}
}

// startStageSpan opens the per-stage trace span.
func (e *Engine) startStageSpan(ctx context.Context, stage, executionID string) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, e.tracer, "pipeline."+stage,
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.StageKey, stage),
		attribute.String(otelhelper.WorkerIDKey, e.workerID),
	)
}

// claimStage reloads the execution and decides whether this worker should run
// the stage. When the execution sits at the entry status the claim advances
// it to the working status; when it already sits at the working status the
// stage is re-entered after a crash or redelivery. Anything else, including a
// concurrent claim detected by the version guard, is a no-op.
func (e *Engine) claimStage(ctx context.Context, executionID string, entry, working models.WorkflowStatus) (*models.WorkflowExecution, bool, error) {
	execution, err := e.persistence.WorkflowRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if execution == nil {
		e.logger.WarnContext(ctx, "Stage event for unknown execution", "execution_id", executionID)

		return nil, false, nil
	}

	switch execution.Status {
	case working:
		return execution, true, nil
	case entry:
		if entry == working {
			return execution, true, nil
		}

		err = e.persistence.WorkflowRepository().Transition(ctx, execution, working)
		if err != nil {
			if persistence.IsStaleVersion(err) || persistence.IsInvalidTransition(err) {
				e.logger.InfoContext(ctx, "Stage already claimed elsewhere",
					"execution_id", executionID, "status", execution.Status)

				return nil, false, nil
			}

			return nil, false, fmt.Errorf("failed to claim stage for execution %s: %w", executionID, err)
		}

		return execution, true, nil
	default:
		e.logger.InfoContext(ctx, "Skipping stage event, execution has moved on",
			"execution_id", executionID, "status", execution.Status)

		return nil, false, e.nudge(ctx, execution)
	}
}

// nudge re-announces whatever work the execution's current status implies.
// Stage events are published after their transition commits, so a worker
// dying between the two leaves a workflow whose next announcement never went
// out. Redeliveries of earlier stage events land here and push the lost
// announcement again; handlers re-read state, so an extra announcement for
// work already in flight degrades to a no-op.
func (e *Engine) nudge(ctx context.Context, execution *models.WorkflowExecution) error {
	switch execution.Status {
	case models.WorkflowStatusAnalyzing:
		return e.emitStage(ctx, execution, events.StageAnalysis)
	case models.WorkflowStatusScriptGeneration:
		return e.emitStage(ctx, execution, events.StageScript)
	case models.WorkflowStatusVideoGeneration:
		return e.emitStage(ctx, execution, events.StageVideo)
	case models.WorkflowStatusAwaitingApproval:
		if !execution.Config.AutoApprove {
			return nil
		}

		return e.autoResolve(ctx, execution)
	case models.WorkflowStatusApproved:
		return e.dispatchApproved(ctx, execution)
	case models.WorkflowStatusPublishing:
		return e.emitStage(ctx, execution, events.StagePublish)
	default:
		return nil
	}
}

// autoResolve approves a parked execution as the system approver. Used on
// the auto-approve path when the inline resolution was lost with a worker.
func (e *Engine) autoResolve(ctx context.Context, execution *models.WorkflowExecution) error {
	approval, err := e.persistence.ApprovalRepository().GetByExecution(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to load approval for execution %s: %w", execution.ID, err)
	}

	if approval == nil || approval.Status != models.ApprovalStatusPending {
		return nil
	}

	return e.ResolveApproval(ctx, ResolveRequest{
		ApprovalID:   approval.ID,
		Decision:     models.ApprovalStatusApproved,
		Approver:     models.AutoApprover,
		ArtifactHash: approval.ArtifactHash,
	})
}

// emitStage announces that the execution is ready for the named stage.
func (e *Engine) emitStage(ctx context.Context, execution *models.WorkflowExecution, stage string) error {
	event := events.WorkflowStageAvailable{
		BaseEvent: events.NewBaseEvent(events.WorkflowStageAvailableEvent, execution.ID),
		Stage:     stage,
		Status:    execution.Status,
	}
	event.WorkerID = e.workerID

	err := e.eventBus.Publish(ctx, execution.ID, event)
	if err != nil {
		return fmt.Errorf("failed to publish stage event %s: %w", stage, err)
	}

	return nil
}

// failExecution marks the execution failed and announces it. The failure
// write wins over any in-flight stage writer, so a lost race here only means
// the workflow already reached a terminal report.
func (e *Engine) failExecution(ctx context.Context, executionID, stage string, cause error) error {
	message := fmt.Sprintf("stage %s: %v", stage, cause)

	e.logger.ErrorContext(ctx, "Workflow stage failed",
		"execution_id", executionID, "stage", stage, "error", cause)

	err := e.persistence.WorkflowRepository().Fail(ctx, executionID, message)
	if err != nil {
		if persistence.IsExecutionNotFound(err) || persistence.IsInvalidTransition(err) {
			return nil
		}

		return fmt.Errorf("failed to mark execution %s failed: %w", executionID, err)
	}

	event := events.WorkflowFailed{
		BaseEvent: events.NewBaseEvent(events.WorkflowFailedEvent, executionID),
		Stage:     stage,
		Error:     message,
	}
	event.WorkerID = e.workerID

	return e.eventBus.Publish(ctx, executionID, event)
}

// stageOutcome converts a provider failure into either a retry (transient:
// the event is redelivered) or a terminal workflow failure.
func (e *Engine) stageOutcome(ctx context.Context, executionID, stage string, err error) error {
	if providers.IsTransient(err) {
		return newStageError(stage, executionID, err)
	}

	return e.failExecution(ctx, executionID, stage, err)
}

// discardIfStale absorbs optimistic-concurrency losses: some other writer
// advanced or terminated the execution first and this worker's result is
// obsolete.
func (e *Engine) discardIfStale(ctx context.Context, executionID string, err error) (bool, error) {
	if err == nil {
		return false, nil
	}

	if persistence.IsStaleVersion(err) || persistence.IsInvalidTransition(err) {
		e.logger.InfoContext(ctx, "Discarding stale stage result", "execution_id", executionID)

		return true, nil
	}

	return false, err
}
