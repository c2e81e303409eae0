package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// ApprovalRepository stores review checkpoints in memory.
type ApprovalRepository struct {
	store *store
}

func (r *ApprovalRepository) Create(_ context.Context, approval *models.WorkflowApproval) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.approvals {
		if existing.ExecutionID == approval.ExecutionID {
			return persistence.NewExecutionError("SaveApproval", approval.ExecutionID, errors.New("approval already exists for execution"))
		}
	}

	err := prepareApproval(approval)
	if err != nil {
		return err
	}

	r.store.approvals[approval.ID] = cloneApproval(approval)

	return nil
}

func (r *ApprovalRepository) GetByID(_ context.Context, id string) (*models.WorkflowApproval, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored, ok := r.store.approvals[id]
	if !ok {
		return nil, nil
	}

	return cloneApproval(stored), nil
}

func (r *ApprovalRepository) GetByExecution(_ context.Context, executionID string) (*models.WorkflowApproval, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, approval := range r.store.approvals {
		if approval.ExecutionID == executionID {
			return cloneApproval(approval), nil
		}
	}

	return nil, nil
}

func (r *ApprovalRepository) ListPending(_ context.Context) ([]*models.WorkflowApproval, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	pending := make([]*models.WorkflowApproval, 0)

	for _, approval := range r.store.approvals {
		if approval.Status == models.ApprovalStatusPending {
			pending = append(pending, cloneApproval(approval))
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].RequestedAt.Equal(pending[j].RequestedAt) {
			return pending[i].ID < pending[j].ID
		}

		return pending[i].RequestedAt.Before(pending[j].RequestedAt)
	})

	return pending, nil
}

func (r *ApprovalRepository) Resolve(_ context.Context, execution *models.WorkflowExecution, approval *models.WorkflowApproval, editedScript *models.ScriptGeneration, to models.WorkflowStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.approvals[approval.ID]
	if !ok || stored.Status != models.ApprovalStatusPending {
		return persistence.NewExecutionError("ResolveApproval", approval.ExecutionID, persistence.ErrApprovalAlreadyResolved)
	}

	if editedScript != nil {
		err := prepareScript(editedScript)
		if err != nil {
			return err
		}

		approval.ScriptID = editedScript.ID
		approval.ArtifactHash = editedScript.ArtifactHash
	}

	err := r.store.transitionLocked(execution, to, nil)
	if err != nil {
		return err
	}

	if editedScript != nil {
		r.store.scripts[editedScript.ID] = cloneScript(editedScript)
	}

	now := time.Now().UTC()
	stored.Status = approval.Status
	stored.ScriptID = approval.ScriptID
	stored.ArtifactHash = approval.ArtifactHash
	stored.Approver = approval.Approver
	stored.Feedback = approval.Feedback
	stored.ResolvedAt = &now
	stored.UpdatedAt = now

	approval.ResolvedAt = &now
	approval.UpdatedAt = now

	return nil
}
