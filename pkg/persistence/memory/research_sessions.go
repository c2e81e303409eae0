package memory

import (
	"context"
	"sort"
	"time"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// ResearchRepository stores research sessions in memory.
type ResearchRepository struct {
	store *store
}

func (r *ResearchRepository) Create(_ context.Context, session *models.ResearchSession) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	err := prepareSession(session)
	if err != nil {
		return err
	}

	r.store.sessions[session.ID] = cloneSession(session)

	return nil
}

func (r *ResearchRepository) GetByID(_ context.Context, id string) (*models.ResearchSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored, ok := r.store.sessions[id]
	if !ok {
		return nil, nil
	}

	return cloneSession(stored), nil
}

func (r *ResearchRepository) ListByExecution(_ context.Context, executionID string) ([]*models.ResearchSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	sessions := make([]*models.ResearchSession, 0)

	for _, session := range r.store.sessions {
		if session.ExecutionID != nil && *session.ExecutionID == executionID {
			sessions = append(sessions, cloneSession(session))
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}

		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	return sessions, nil
}

func (r *ResearchRepository) Update(_ context.Context, session *models.ResearchSession) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.sessions[session.ID]
	if !ok {
		return &persistence.SessionError{Op: "Update", SessionID: session.ID, Err: persistence.ErrSessionNotFound}
	}

	if stored.Status == models.ResearchSessionStatusCompleted {
		return &persistence.SessionError{Op: "Update", SessionID: session.ID, Err: persistence.ErrSessionCompleted}
	}

	session.UpdatedAt = time.Now().UTC()
	r.store.sessions[session.ID] = cloneSession(session)

	return nil
}

func (r *ResearchRepository) SaveCollectionResults(_ context.Context, execution *models.WorkflowExecution, sessions []*models.ResearchSession, to models.WorkflowStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, session := range sessions {
		err := prepareSession(session)
		if err != nil {
			return err
		}
	}

	err := r.store.transitionLocked(execution, to, nil)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		r.store.sessions[session.ID] = cloneSession(session)
	}

	return nil
}

func (r *ResearchRepository) CompleteAnalysis(_ context.Context, execution *models.WorkflowExecution, insights *models.ResearchInsights, to models.WorkflowStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	err := r.store.transitionLocked(execution, to, nil)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	for _, session := range r.store.sessions {
		if session.ExecutionID == nil || *session.ExecutionID != execution.ID {
			continue
		}

		if session.Status != models.ResearchSessionStatusRunning {
			continue
		}

		stamped := cloneSession(session)
		stamped.Insights = insights
		stamped.Status = models.ResearchSessionStatusCompleted
		stamped.CompletedAt = &now
		stamped.UpdatedAt = now

		r.store.sessions[session.ID] = cloneSession(stamped)
	}

	return nil
}

// prepareSession assigns identity and defaults before a session is stored.
func prepareSession(session *models.ResearchSession) error {
	now := time.Now().UTC()

	if session.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		session.ID = id
	}

	if session.Status == "" {
		session.Status = models.ResearchSessionStatusPending
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}

	session.UpdatedAt = now

	return nil
}
