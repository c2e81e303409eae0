package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pipecast/pipecast/pkg/eventbus"
	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// Workflow drives the caller-facing lifecycle of executions. It creates them
// and announces the first stage; workers advance everything after that.
type Workflow struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persist persistence.Persistence, eventBus eventbus.EventPublisher, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persist,
		eventBus:    eventBus,
		logger:      logger.With("module", "services"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// StartRequest creates one workflow execution.
type StartRequest struct {
	OwnerID string
	Kind    string
	Config  models.ExecutionConfig
}

// Start persists a pending execution and announces the research stage. The
// config is stored verbatim so the run can later be retried as a new
// execution with identical inputs.
func (w *Workflow) Start(ctx context.Context, req StartRequest) (*models.WorkflowExecution, error) {
	err := w.validateStartRequest(&req)
	if err != nil {
		return nil, err
	}

	execution := &models.WorkflowExecution{
		OwnerID: req.OwnerID,
		Kind:    req.Kind,
		Config:  req.Config,
		Status:  models.WorkflowStatusPending,
	}

	err = w.persistence.WorkflowRepository().Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	err = w.announceResearch(ctx, execution)
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "Workflow started",
		"execution_id", execution.ID, "kind", execution.Kind, "topic", req.Config.Topic)

	return execution, nil
}

func (w *Workflow) validateStartRequest(req *StartRequest) error {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.OwnerID == "" {
		return NewValidationError("Start", "OWNER_REQUIRED", "owner_id is required", ErrInvalidRequest)
	}

	if len(strings.TrimSpace(req.Kind)) < 3 {
		return NewValidationError("Start", "KIND_REQUIRED", "kind must be at least 3 characters", ErrInvalidRequest)
	}

	cfg := &req.Config

	if len(strings.TrimSpace(cfg.Topic)) < 3 {
		return NewValidationError("Start", "TOPIC_REQUIRED", "topic must be at least 3 characters", ErrInvalidRequest)
	}

	if len(cfg.Sources) == 0 {
		return NewValidationError("Start", "SOURCES_REQUIRED", "at least one research source is required", ErrInvalidRequest)
	}

	for _, source := range cfg.Sources {
		if !slices.Contains(knownSources, source) {
			return NewValidationError("Start", "UNKNOWN_SOURCE",
				fmt.Sprintf("unknown source %q, allowed: %s", source, strings.Join(knownSources, ", ")),
				ErrInvalidRequest)
		}
	}

	if len(cfg.Platforms) == 0 {
		return NewValidationError("Start", "PLATFORMS_REQUIRED", "at least one target platform is required", ErrInvalidRequest)
	}

	for _, platform := range cfg.Platforms {
		if !slices.Contains(knownPlatforms, platform) {
			return NewValidationError("Start", "UNKNOWN_PLATFORM",
				fmt.Sprintf("unknown platform %q, allowed: %s", platform, strings.Join(knownPlatforms, ", ")),
				ErrInvalidRequest)
		}
	}

	// The three timing modes are mutually exclusive: only scheduled carries a
	// publish time, and that time must still be ahead.
	switch cfg.Timing {
	case models.TimingImmediate, models.TimingAuto:
		if cfg.PublishAt != nil {
			return NewValidationError("Start", "PUBLISH_AT_FORBIDDEN",
				fmt.Sprintf("publish_at is only allowed with timing %q", models.TimingScheduled),
				ErrInvalidRequest)
		}
	case models.TimingScheduled:
		if cfg.PublishAt == nil {
			return NewValidationError("Start", "PUBLISH_AT_REQUIRED",
				fmt.Sprintf("timing %q requires publish_at", models.TimingScheduled),
				ErrInvalidRequest)
		}

		if !cfg.PublishAt.After(time.Now()) {
			return NewValidationError("Start", "PUBLISH_AT_IN_PAST", "publish_at must be in the future", ErrInvalidRequest)
		}
	default:
		return NewValidationError("Start", "INVALID_TIMING",
			fmt.Sprintf("timing must be one of %s, %s, %s", models.TimingImmediate, models.TimingScheduled, models.TimingAuto),
			ErrInvalidRequest)
	}

	return nil
}

var (
	knownSources   = []string{models.SourceDevForum, models.SourceTechNews, models.SourceRepoTrends, models.SourceSearchTrends}
	knownPlatforms = []string{models.PlatformTikTok, models.PlatformYouTube, models.PlatformInstagram}
)

// announceResearch publishes the stage event a worker picks the execution up
// from.
func (w *Workflow) announceResearch(ctx context.Context, execution *models.WorkflowExecution) error {
	event := events.WorkflowStageAvailable{
		BaseEvent: events.NewBaseEvent(events.WorkflowStageAvailableEvent, execution.ID),
		Stage:     events.StageResearch,
		Status:    execution.Status,
	}

	err := w.eventBus.Publish(ctx, execution.ID, event)
	if err != nil {
		// The execution row exists but no worker will hear about it; surface
		// the failure so the caller retries instead of waiting forever.
		return fmt.Errorf("execution %s created but stage announcement failed: %w", execution.ID, err)
	}

	return nil
}

// ListRequest contains options for listing executions.
type ListRequest struct {
	// Pagination
	Limit  int
	Offset int

	// Filtering
	OwnerID string
	Status  *models.WorkflowStatus

	// Sorting
	SortBy    string
	SortOrder string
}

// ListResponse contains the result of listing executions.
type ListResponse struct {
	Executions  []*models.WorkflowExecution `json:"executions"`
	TotalCount  int64                       `json:"total_count"`
	HasNextPage bool                        `json:"has_next_page"`
}

// List retrieves executions with filtering, sorting, and pagination.
func (w *Workflow) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	err := w.validateListRequest(&req)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	result, err := w.persistence.WorkflowRepository().ListExecutions(ctx, persistence.ListExecutionsOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		OwnerID:   req.OwnerID,
		Status:    req.Status,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		if persistence.IsInvalidSortField(err) {
			return nil, ErrInvalidSortField
		}

		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return &ListResponse{
		Executions:  result.Executions,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// validateListRequest validates and sets defaults for the request.
func (w *Workflow) validateListRequest(req *ListRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "status"}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.Status != nil && !knownStatus(*req.Status) {
		return NewValidationError(
			"validateListRequest",
			"INVALID_STATUS",
			fmt.Sprintf("invalid status '%s'", *req.Status),
			ErrInvalidStatus,
		)
	}

	if req.OwnerID != "" {
		req.OwnerID = strings.TrimSpace(req.OwnerID)
	}

	return nil
}

func knownStatus(status models.WorkflowStatus) bool {
	switch status {
	case models.WorkflowStatusPending, models.WorkflowStatusResearching,
		models.WorkflowStatusAnalyzing, models.WorkflowStatusScriptGeneration,
		models.WorkflowStatusVideoGeneration, models.WorkflowStatusAwaitingApproval,
		models.WorkflowStatusApproved, models.WorkflowStatusRejected,
		models.WorkflowStatusPublishing, models.WorkflowStatusCompleted,
		models.WorkflowStatusFailed, models.WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// FetchByID retrieves an execution by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, fmt.Errorf("execution %s: %w", id, ErrExecutionNotFound)
	}

	return execution, nil
}

// Cancel stops an execution from any non-terminal status. In-flight provider
// work is not un-submitted; its late results are discarded by the version
// guard when they try to land.
func (w *Workflow) Cancel(ctx context.Context, id, reason, cancelledBy string) (*models.WorkflowExecution, error) {
	err := w.persistence.WorkflowRepository().Cancel(ctx, id)
	if err != nil {
		if persistence.IsInvalidTransition(err) {
			return nil, fmt.Errorf("execution %s: %w", id, ErrExecutionNotCancellable)
		}

		return nil, err
	}

	execution, err := w.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	event := events.WorkflowCancelled{
		BaseEvent:   events.NewBaseEvent(events.WorkflowCancelledEvent, id),
		Reason:      reason,
		CancelledBy: cancelledBy,
	}

	err = w.eventBus.Publish(ctx, id, event)
	if err != nil {
		// The cancellation is durable; stage handlers refuse terminal
		// executions on their own, so a lost event costs nothing.
		w.logger.WarnContext(ctx, "Failed to publish cancellation event", "execution_id", id, "error", err)
	}

	w.logger.InfoContext(ctx, "Workflow cancelled", "execution_id", id, "cancelled_by", cancelledBy)

	return execution, nil
}

// Retry clones a finished execution's config into a brand new execution.
// Executions are append-only audit records, so a retry never reuses the old
// row.
func (w *Workflow) Retry(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	source, err := w.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !source.Status.IsTerminal() {
		return nil, fmt.Errorf("execution %s: %w", id, ErrExecutionStillRunning)
	}

	retry := &models.WorkflowExecution{
		OwnerID: source.OwnerID,
		Kind:    source.Kind,
		Config:  source.Config,
		Status:  models.WorkflowStatusPending,
	}

	err = w.persistence.WorkflowRepository().Create(ctx, retry)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry execution: %w", err)
	}

	err = w.announceResearch(ctx, retry)
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "Workflow retried as new execution",
		"source_execution_id", id, "execution_id", retry.ID)

	return retry, nil
}

// Delete soft-deletes a terminal execution and hides its aggregate.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	err := w.persistence.WorkflowRepository().Delete(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotTerminal) {
			return fmt.Errorf("execution %s: %w", id, ErrExecutionStillRunning)
		}

		return err
	}

	w.logger.InfoContext(ctx, "Workflow deleted", "execution_id", id)

	return nil
}
