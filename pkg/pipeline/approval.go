package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pipecast/pipecast/pkg/events"
	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// ScriptEdit carries reviewer changes applied while approving. Zero-value
// fields keep the reviewed script's content; Hashtags replace wholesale when
// non-nil.
type ScriptEdit struct {
	Title        string
	Hook         string
	Body         string
	CallToAction string
	Hashtags     []string
}

func (s *ScriptEdit) empty() bool {
	return s.Title == "" && s.Hook == "" && s.Body == "" &&
		s.CallToAction == "" && s.Hashtags == nil
}

// ResolveRequest is one approval decision.
type ResolveRequest struct {
	ApprovalID   string
	Decision     models.ApprovalStatus
	Approver     string
	ArtifactHash string
	Feedback     string
	Edit         *ScriptEdit
}

// ResolveApproval applies a reviewer decision to a pending checkpoint. The
// decision must present the artifact hash the reviewer saw; a mismatch means
// the content changed under them and the decision is refused as stale.
// Approving with edits first materializes the edited script as a new
// immutable version, re-hashed, in the same transaction as the resolution.
// On approve, publishing is dispatched according to the execution's timing
// mode; on reject the workflow ends.
func (e *Engine) ResolveApproval(ctx context.Context, req ResolveRequest) error {
	if req.Decision != models.ApprovalStatusApproved && req.Decision != models.ApprovalStatusRejected {
		return fmt.Errorf("decision must be %s or %s, got %q",
			models.ApprovalStatusApproved, models.ApprovalStatusRejected, req.Decision)
	}

	approval, err := e.persistence.ApprovalRepository().GetByID(ctx, req.ApprovalID)
	if err != nil {
		return fmt.Errorf("failed to load approval %s: %w", req.ApprovalID, err)
	}

	if approval == nil {
		return fmt.Errorf("approval %s: %w", req.ApprovalID, persistence.ErrApprovalNotFound)
	}

	execution, err := e.persistence.WorkflowRepository().GetByID(ctx, approval.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", approval.ExecutionID, err)
	}

	if execution == nil {
		return fmt.Errorf("execution %s: %w", approval.ExecutionID, persistence.ErrExecutionNotFound)
	}

	if approval.Status != models.ApprovalStatusPending {
		// A decision already landed. When the workflow sits at approved the
		// dispatch may have been lost with a crashed worker, so push it again
		// before reporting the conflict.
		if execution.Status == models.WorkflowStatusApproved {
			if dispatchErr := e.dispatchApproved(ctx, execution); dispatchErr != nil {
				e.logger.WarnContext(ctx, "Failed to re-dispatch approved execution",
					"execution_id", execution.ID, "error", dispatchErr)
			}
		}

		return fmt.Errorf("approval %s: %w", approval.ID, persistence.ErrApprovalAlreadyResolved)
	}

	if req.ArtifactHash != approval.ArtifactHash {
		return fmt.Errorf("approval %s: %w", approval.ID, ErrStaleArtifact)
	}

	var editedScript *models.ScriptGeneration

	if req.Decision == models.ApprovalStatusApproved && req.Edit != nil && !req.Edit.empty() {
		editedScript, err = e.editedScript(ctx, approval, req.Edit)
		if err != nil {
			return err
		}
	}

	approval.Status = req.Decision
	approval.Approver = req.Approver
	approval.Feedback = req.Feedback

	to := models.WorkflowStatusApproved
	if req.Decision == models.ApprovalStatusRejected {
		to = models.WorkflowStatusRejected
	}

	err = e.persistence.ApprovalRepository().Resolve(ctx, execution, approval, editedScript, to)
	if err != nil {
		return fmt.Errorf("failed to resolve approval %s: %w", approval.ID, err)
	}

	e.logger.InfoContext(ctx, "Approval resolved",
		"execution_id", execution.ID, "approval_id", approval.ID,
		"decision", req.Decision, "approver", req.Approver, "edited", editedScript != nil)

	event := events.ApprovalResolved{
		BaseEvent:  events.NewBaseEvent(events.ApprovalResolvedEvent, execution.ID),
		ApprovalID: approval.ID,
		Decision:   req.Decision,
		Approver:   req.Approver,
	}
	event.WorkerID = e.workerID

	err = e.eventBus.Publish(ctx, execution.ID, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish approval event",
			"execution_id", execution.ID, "error", err)
	}

	if req.Decision == models.ApprovalStatusRejected {
		return nil
	}

	return e.dispatchApproved(ctx, execution)
}

// dispatchApproved routes an approved execution into publishing according to
// its timing mode: a fixed publish time goes through the delayed task queue,
// everything else dispatches now. Enqueueing twice is harmless because the
// publish stage claim is guarded.
func (e *Engine) dispatchApproved(ctx context.Context, execution *models.WorkflowExecution) error {
	cfg := execution.Config

	if cfg.Timing == models.TimingScheduled && cfg.PublishAt != nil {
		e.logger.InfoContext(ctx, "Publishing scheduled",
			"execution_id", execution.ID, "publish_at", cfg.PublishAt)

		return e.scheduler.EnqueueScheduledPublish(ctx, execution.ID, *cfg.PublishAt)
	}

	return e.emitStage(ctx, execution, events.StagePublish)
}

// editedScript materializes reviewer edits as a new immutable script version.
func (e *Engine) editedScript(ctx context.Context, approval *models.WorkflowApproval, edit *ScriptEdit) (*models.ScriptGeneration, error) {
	base, err := e.persistence.ScriptRepository().GetByID(ctx, approval.ScriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load script %s: %w", approval.ScriptID, err)
	}

	if base == nil {
		return nil, fmt.Errorf("script %s: %w", approval.ScriptID, persistence.ErrScriptNotFound)
	}

	edited := *base
	edited.ID = ""
	edited.Origin = models.ScriptOriginManualEdit
	edited.QualityScore = 0
	edited.PromptNotes = "reviewer edit applied at approval"
	edited.CreatedAt = time.Time{}

	if edit.Title != "" {
		edited.Title = edit.Title
	}

	if edit.Hook != "" {
		edited.Hook = edit.Hook
	}

	if edit.Body != "" {
		edited.Body = edit.Body
	}

	if edit.CallToAction != "" {
		edited.CallToAction = edit.CallToAction
	}

	if edit.Hashtags != nil {
		edited.Hashtags = edit.Hashtags
	}

	edited.WordCount = len(strings.Fields(edited.Body))
	edited.ArtifactHash = ArtifactHash(&edited)

	return &edited, nil
}
