package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
	"github.com/pipecast/pipecast/pkg/pipeline"
)

// ApprovalResolver applies reviewer decisions through the stage engine so the
// timing dispatch happens synchronously with the resolution.
type ApprovalResolver interface {
	ResolveApproval(ctx context.Context, req pipeline.ResolveRequest) error
}

// Approval exposes the review checkpoint to callers: listing what waits for a
// decision and applying the decision itself.
type Approval struct {
	persistence persistence.Persistence
	resolver    ApprovalResolver
	logger      *slog.Logger
}

// NewApproval creates a new approval service.
func NewApproval(persist persistence.Persistence, resolver ApprovalResolver, logger *slog.Logger) *Approval {
	return &Approval{
		persistence: persist,
		resolver:    resolver,
		logger:      logger.With("module", "services"),
	}
}

// ListPending returns every approval still waiting for a decision, oldest
// request first.
func (a *Approval) ListPending(ctx context.Context) ([]*models.WorkflowApproval, error) {
	approvals, err := a.persistence.ApprovalRepository().ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}

	return approvals, nil
}

// GetByExecution returns the approval attached to an execution.
func (a *Approval) GetByExecution(ctx context.Context, executionID string) (*models.WorkflowApproval, error) {
	approval, err := a.persistence.ApprovalRepository().GetByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if approval == nil {
		return nil, fmt.Errorf("execution %s approval: %w", executionID, ErrApprovalNotFound)
	}

	return approval, nil
}

// ScriptEditRequest carries reviewer changes applied while approving. Empty
// fields keep the reviewed script's content.
type ScriptEditRequest struct {
	Title        string
	Hook         string
	Body         string
	CallToAction string
	Hashtags     []string
}

// ResolveApprovalRequest is one reviewer decision on a pending approval.
type ResolveApprovalRequest struct {
	ApprovalID   string
	Decision     string
	Approver     string
	ArtifactHash string
	Feedback     string
	Edit         *ScriptEditRequest
}

// Resolve validates and applies one reviewer decision, then returns the
// resolved approval for the response body.
func (a *Approval) Resolve(ctx context.Context, req ResolveApprovalRequest) (*models.WorkflowApproval, error) {
	err := a.validateResolveRequest(&req)
	if err != nil {
		return nil, err
	}

	resolve := pipeline.ResolveRequest{
		ApprovalID:   req.ApprovalID,
		Decision:     models.ApprovalStatus(req.Decision),
		Approver:     req.Approver,
		ArtifactHash: req.ArtifactHash,
		Feedback:     req.Feedback,
	}

	if req.Edit != nil {
		resolve.Edit = &pipeline.ScriptEdit{
			Title:        req.Edit.Title,
			Hook:         req.Edit.Hook,
			Body:         req.Edit.Body,
			CallToAction: req.Edit.CallToAction,
			Hashtags:     req.Edit.Hashtags,
		}
	}

	err = a.resolver.ResolveApproval(ctx, resolve)
	if err != nil {
		return nil, err
	}

	approval, err := a.persistence.ApprovalRepository().GetByID(ctx, req.ApprovalID)
	if err != nil {
		return nil, fmt.Errorf("approval %s resolved but reload failed: %w", req.ApprovalID, err)
	}

	a.logger.InfoContext(ctx, "Approval resolved",
		"approval_id", req.ApprovalID, "decision", req.Decision, "approver", req.Approver)

	return approval, nil
}

func (a *Approval) validateResolveRequest(req *ResolveApprovalRequest) error {
	if strings.TrimSpace(req.ApprovalID) == "" {
		return NewValidationError("Resolve", "APPROVAL_ID_REQUIRED", "approval id is required", ErrInvalidRequest)
	}

	decision := models.ApprovalStatus(req.Decision)
	if decision != models.ApprovalStatusApproved && decision != models.ApprovalStatusRejected {
		return NewValidationError("Resolve", "INVALID_DECISION",
			fmt.Sprintf("decision must be %s or %s", models.ApprovalStatusApproved, models.ApprovalStatusRejected),
			ErrInvalidRequest)
	}

	req.Approver = strings.TrimSpace(req.Approver)
	if req.Approver == "" {
		return NewValidationError("Resolve", "APPROVER_REQUIRED", "approver is required", ErrInvalidRequest)
	}

	// Without the hash the stale-content check cannot run, so refuse early
	// rather than letting every decision look stale.
	if strings.TrimSpace(req.ArtifactHash) == "" {
		return NewValidationError("Resolve", "ARTIFACT_HASH_REQUIRED",
			"artifact_hash of the reviewed script is required", ErrInvalidRequest)
	}

	if req.Edit != nil && decision == models.ApprovalStatusRejected {
		return NewValidationError("Resolve", "EDIT_ON_REJECT",
			"script edits are only applied when approving", ErrInvalidRequest)
	}

	return nil
}
