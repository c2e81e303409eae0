package memory

import (
	"context"
	"time"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// VideoTaskRepository stores render tasks in memory.
type VideoTaskRepository struct {
	store *store
}

func (r *VideoTaskRepository) Create(_ context.Context, task *models.VideoGenerationTask) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.videoTasks {
		if existing.ExecutionID == task.ExecutionID && !existing.Status.IsTerminal() {
			return persistence.NewExecutionError("CreateVideoTask", task.ExecutionID, persistence.ErrActiveVideoTask)
		}
	}

	now := time.Now().UTC()

	if task.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		task.ID = id
	}

	if task.Status == "" {
		task.Status = models.VideoTaskStatusPending
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}

	task.UpdatedAt = now

	r.store.videoTasks[task.ID] = cloneTask(task)

	return nil
}

func (r *VideoTaskRepository) GetByID(_ context.Context, id string) (*models.VideoGenerationTask, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored, ok := r.store.videoTasks[id]
	if !ok {
		return nil, nil
	}

	return cloneTask(stored), nil
}

func (r *VideoTaskRepository) GetActiveByExecution(_ context.Context, executionID string) (*models.VideoGenerationTask, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, task := range r.store.videoTasks {
		if task.ExecutionID == executionID && !task.Status.IsTerminal() {
			return cloneTask(task), nil
		}
	}

	return nil, nil
}

func (r *VideoTaskRepository) Update(_ context.Context, task *models.VideoGenerationTask) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return updateTaskLocked(r.store, task)
}

func (r *VideoTaskRepository) CompleteVideoStage(_ context.Context, execution *models.WorkflowExecution, task *models.VideoGenerationTask, approval *models.WorkflowApproval, to models.WorkflowStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.videoTasks[task.ID]; !ok {
		return persistence.NewExecutionError("UpdateVideoTask", task.ExecutionID, persistence.ErrVideoTaskNotFound)
	}

	if approval != nil {
		approval.VideoTaskID = task.ID

		err := prepareApproval(approval)
		if err != nil {
			return err
		}
	}

	err := r.store.transitionLocked(execution, to, nil)
	if err != nil {
		return err
	}

	err = updateTaskLocked(r.store, task)
	if err != nil {
		return err
	}

	if approval != nil {
		r.store.approvals[approval.ID] = cloneApproval(approval)
	}

	return nil
}

func (r *VideoTaskRepository) FailVideoStage(_ context.Context, execution *models.WorkflowExecution, task *models.VideoGenerationTask, errorMessage string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	task.Status = models.VideoTaskStatusFailed
	task.ErrorMessage = errorMessage

	if task.CompletedAt == nil {
		task.CompletedAt = &now
	}

	err := updateTaskLocked(r.store, task)
	if err != nil {
		return err
	}

	// The execution write is skipped when another actor already finished it
	stored, ok := r.store.executions[execution.ID]
	if ok && stored.DeletedAt == nil && !stored.Status.IsTerminal() {
		stored.Status = models.WorkflowStatusFailed
		stored.ErrorMessage = errorMessage
		stored.Version++
		stored.CompletedAt = &now
		stored.UpdatedAt = now
	}

	return nil
}

func updateTaskLocked(s *store, task *models.VideoGenerationTask) error {
	if _, ok := s.videoTasks[task.ID]; !ok {
		return persistence.NewExecutionError("UpdateVideoTask", task.ExecutionID, persistence.ErrVideoTaskNotFound)
	}

	task.UpdatedAt = time.Now().UTC()
	s.videoTasks[task.ID] = cloneTask(task)

	return nil
}
