// Package memory provides an in-memory persistence implementation for tests
// and local development. It honors the same contracts as the PostgreSQL
// implementation, including version-guarded transitions and all-or-nothing
// stage writes.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
)

// store holds every aggregate under one mutex so compound stage writes stay
// atomic without transaction machinery.
type store struct {
	mu           sync.RWMutex
	executions   map[string]*models.WorkflowExecution
	sessions     map[string]*models.ResearchSession
	scripts      map[string]*models.ScriptGeneration
	videoTasks   map[string]*models.VideoGenerationTask
	approvals    map[string]*models.WorkflowApproval
	publications map[string]*models.PublicationRecord
}

// Persistence implements the persistence.Persistence interface in memory.
type Persistence struct {
	store           *store
	workflowRepo    *WorkflowRepository
	researchRepo    *ResearchRepository
	scriptRepo      *ScriptRepository
	videoTaskRepo   *VideoTaskRepository
	approvalRepo    *ApprovalRepository
	publicationRepo *PublicationRepository
}

// NewPersistence creates an empty in-memory persistence.
func NewPersistence() persistence.Persistence {
	s := &store{
		executions:   make(map[string]*models.WorkflowExecution),
		sessions:     make(map[string]*models.ResearchSession),
		scripts:      make(map[string]*models.ScriptGeneration),
		videoTasks:   make(map[string]*models.VideoGenerationTask),
		approvals:    make(map[string]*models.WorkflowApproval),
		publications: make(map[string]*models.PublicationRecord),
	}

	return &Persistence{
		store:           s,
		workflowRepo:    &WorkflowRepository{store: s},
		researchRepo:    &ResearchRepository{store: s},
		scriptRepo:      &ScriptRepository{store: s},
		videoTaskRepo:   &VideoTaskRepository{store: s},
		approvalRepo:    &ApprovalRepository{store: s},
		publicationRepo: &PublicationRepository{store: s},
	}
}

// Close releases nothing; memory persistence has no external resources.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck always succeeds for memory persistence.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) ResearchRepository() persistence.ResearchRepository {
	return p.researchRepo
}

func (p *Persistence) ScriptRepository() persistence.ScriptRepository {
	return p.scriptRepo
}

func (p *Persistence) VideoTaskRepository() persistence.VideoTaskRepository {
	return p.videoTaskRepo
}

func (p *Persistence) ApprovalRepository() persistence.ApprovalRepository {
	return p.approvalRepo
}

func (p *Persistence) PublicationRepository() persistence.PublicationRepository {
	return p.publicationRepo
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}

	return id.String(), nil
}

// transitionLocked performs the version-guarded status write. The caller must
// hold the write lock. On success both the stored row and the caller's
// execution are updated, matching the SQL implementation.
func (s *store) transitionLocked(execution *models.WorkflowExecution, to models.WorkflowStatus, results map[string]any) error {
	if !models.CanTransition(execution.Status, to) {
		return &persistence.ExecutionError{
			Op:          "Transition",
			ExecutionID: execution.ID,
			Err:         persistence.ErrInvalidTransition,
			Message:     fmt.Sprintf("%s -> %s", execution.Status, to),
		}
	}

	stored, ok := s.executions[execution.ID]
	if !ok || stored.DeletedAt != nil || stored.Version != execution.Version {
		return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrStaleVersion)
	}

	now := time.Now().UTC()

	startedAt := stored.StartedAt
	if startedAt == nil && to == models.WorkflowStatusResearching {
		startedAt = &now
	}

	completedAt := stored.CompletedAt
	if completedAt == nil && to.IsTerminal() {
		completedAt = &now
	}

	mergedResults := stored.Results
	if results != nil {
		if mergedResults == nil {
			mergedResults = make(map[string]any, len(results))
		} else {
			mergedResults = maps.Clone(mergedResults)
		}

		maps.Copy(mergedResults, results)
	}

	stored.Status = to
	stored.Version++
	stored.Results = mergedResults
	stored.StartedAt = startedAt
	stored.CompletedAt = completedAt
	stored.UpdatedAt = now

	execution.Status = to
	execution.Version = stored.Version
	execution.Results = maps.Clone(mergedResults)
	execution.StartedAt = startedAt
	execution.CompletedAt = completedAt
	execution.UpdatedAt = now

	return nil
}

func cloneExecution(execution *models.WorkflowExecution) *models.WorkflowExecution {
	clone := *execution
	clone.Config.Sources = slices.Clone(execution.Config.Sources)
	clone.Config.Platforms = slices.Clone(execution.Config.Platforms)
	clone.Results = maps.Clone(execution.Results)

	return &clone
}

func cloneSession(session *models.ResearchSession) *models.ResearchSession {
	clone := *session
	clone.RawData = slices.Clone(session.RawData)

	if session.ExecutionID != nil {
		executionID := *session.ExecutionID
		clone.ExecutionID = &executionID
	}

	if session.Insights != nil {
		insights := *session.Insights
		insights.KeyThemes = slices.Clone(session.Insights.KeyThemes)
		insights.Angles = slices.Clone(session.Insights.Angles)
		insights.Keywords = slices.Clone(session.Insights.Keywords)
		clone.Insights = &insights
	}

	return &clone
}

func cloneScript(script *models.ScriptGeneration) *models.ScriptGeneration {
	clone := *script
	clone.Hashtags = slices.Clone(script.Hashtags)

	return &clone
}

func cloneTask(task *models.VideoGenerationTask) *models.VideoGenerationTask {
	clone := *task

	return &clone
}

func cloneApproval(approval *models.WorkflowApproval) *models.WorkflowApproval {
	clone := *approval

	return &clone
}

func clonePublication(record *models.PublicationRecord) *models.PublicationRecord {
	clone := *record

	return &clone
}

// prepareScript assigns identity and defaults before a script is stored.
func prepareScript(script *models.ScriptGeneration) error {
	if script.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		script.ID = id
	}

	if script.Origin == "" {
		script.Origin = models.ScriptOriginGenerated
	}

	if script.CreatedAt.IsZero() {
		script.CreatedAt = time.Now().UTC()
	}

	return nil
}

// prepareApproval assigns identity and defaults before an approval is stored.
func prepareApproval(approval *models.WorkflowApproval) error {
	now := time.Now().UTC()

	if approval.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}

		approval.ID = id
	}

	if approval.Status == "" {
		approval.Status = models.ApprovalStatusPending
	}

	if approval.RequestedAt.IsZero() {
		approval.RequestedAt = now
	}

	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = now
	}

	approval.UpdatedAt = now

	return nil
}
