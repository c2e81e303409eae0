package memory

import (
	"context"
	"sort"

	"github.com/pipecast/pipecast/pkg/models"
)

// ScriptRepository stores script artifacts in memory.
type ScriptRepository struct {
	store *store
}

func (r *ScriptRepository) Create(_ context.Context, script *models.ScriptGeneration) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	err := prepareScript(script)
	if err != nil {
		return err
	}

	r.store.scripts[script.ID] = cloneScript(script)

	return nil
}

func (r *ScriptRepository) GetByID(_ context.Context, id string) (*models.ScriptGeneration, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored, ok := r.store.scripts[id]
	if !ok {
		return nil, nil
	}

	return cloneScript(stored), nil
}

func (r *ScriptRepository) LatestByExecution(ctx context.Context, executionID string) (*models.ScriptGeneration, error) {
	scripts, err := r.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if len(scripts) == 0 {
		return nil, nil
	}

	return scripts[len(scripts)-1], nil
}

func (r *ScriptRepository) ListByExecution(_ context.Context, executionID string) ([]*models.ScriptGeneration, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	scripts := make([]*models.ScriptGeneration, 0)

	for _, script := range r.store.scripts {
		if script.ExecutionID == executionID {
			scripts = append(scripts, cloneScript(script))
		}
	}

	sort.Slice(scripts, func(i, j int) bool {
		if scripts[i].CreatedAt.Equal(scripts[j].CreatedAt) {
			return scripts[i].ID < scripts[j].ID
		}

		return scripts[i].CreatedAt.Before(scripts[j].CreatedAt)
	})

	return scripts, nil
}

func (r *ScriptRepository) SaveScriptStage(_ context.Context, execution *models.WorkflowExecution, script *models.ScriptGeneration, approval *models.WorkflowApproval, to models.WorkflowStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	err := prepareScript(script)
	if err != nil {
		return err
	}

	if approval != nil {
		approval.ScriptID = script.ID

		err = prepareApproval(approval)
		if err != nil {
			return err
		}
	}

	err = r.store.transitionLocked(execution, to, nil)
	if err != nil {
		return err
	}

	r.store.scripts[script.ID] = cloneScript(script)

	if approval != nil {
		r.store.approvals[approval.ID] = cloneApproval(approval)
	}

	return nil
}
