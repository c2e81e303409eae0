package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// WorkflowRepository stores workflow executions in memory.
type WorkflowRepository struct {
	store *store
}

func (r *WorkflowRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()

	if execution.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		execution.ID = id
	}

	if _, exists := r.store.executions[execution.ID]; exists {
		return persistence.NewExecutionError("Create", execution.ID, errors.New("execution already exists"))
	}

	if execution.Status == "" {
		execution.Status = models.WorkflowStatusPending
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now
	execution.Version = 0

	r.store.executions[execution.ID] = cloneExecution(execution)

	return nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored, ok := r.store.executions[id]
	if !ok || stored.DeletedAt != nil {
		return nil, nil
	}

	return cloneExecution(stored), nil
}

func (r *WorkflowRepository) ListExecutions(_ context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	switch opts.SortBy {
	case "created_at", "updated_at", "status":
	default:
		return nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	matched := make([]*models.WorkflowExecution, 0)

	for _, execution := range r.store.executions {
		if execution.DeletedAt != nil {
			continue
		}

		if opts.OwnerID != "" && execution.OwnerID != opts.OwnerID {
			continue
		}

		if opts.Status != nil && execution.Status != *opts.Status {
			continue
		}

		matched = append(matched, execution)
	}

	less := func(a, b *models.WorkflowExecution) bool {
		switch opts.SortBy {
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "status":
			return a.Status < b.Status
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if opts.SortOrder == "asc" {
			return less(matched[i], matched[j])
		}

		return less(matched[j], matched[i])
	})

	totalCount := int64(len(matched))

	start := opts.Offset
	if start > len(matched) {
		start = len(matched)
	}

	end := start + opts.Limit
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]*models.WorkflowExecution, 0, end-start)
	for _, execution := range matched[start:end] {
		page = append(page, cloneExecution(execution))
	}

	return &persistence.ExecutionListResult{
		Executions:  page,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(page)) < totalCount,
	}, nil
}

func (r *WorkflowRepository) Transition(_ context.Context, execution *models.WorkflowExecution, to models.WorkflowStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.transitionLocked(execution, to, nil)
}

func (r *WorkflowRepository) TransitionWithResults(_ context.Context, execution *models.WorkflowExecution, to models.WorkflowStatus, results map[string]any) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.transitionLocked(execution, to, results)
}

func (r *WorkflowRepository) Fail(_ context.Context, id, errorMessage string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return failExecutionLocked(r.store, "Fail", id, models.WorkflowStatusFailed, errorMessage)
}

func (r *WorkflowRepository) Cancel(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return failExecutionLocked(r.store, "Cancel", id, models.WorkflowStatusCancelled, "")
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.executions[id]
	if !ok || stored.DeletedAt != nil {
		return persistence.NewExecutionError("Delete", id, persistence.ErrExecutionNotFound)
	}

	if !stored.Status.IsTerminal() {
		return persistence.NewExecutionError("Delete", id, persistence.ErrExecutionNotTerminal)
	}

	now := time.Now().UTC()
	stored.DeletedAt = &now
	stored.UpdatedAt = now

	return nil
}

// failExecutionLocked is the shared body of Fail and Cancel: a non
// version-guarded terminal write refused only for missing or already terminal
// executions.
func failExecutionLocked(s *store, op, id string, to models.WorkflowStatus, errorMessage string) error {
	stored, ok := s.executions[id]
	if !ok || stored.DeletedAt != nil {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	if stored.Status.IsTerminal() {
		return persistence.NewExecutionError(op, id, persistence.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	stored.Status = to
	stored.Version++
	stored.UpdatedAt = now

	if stored.CompletedAt == nil {
		stored.CompletedAt = &now
	}

	if errorMessage != "" {
		stored.ErrorMessage = errorMessage
	}

	return nil
}
