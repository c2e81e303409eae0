// Package persistence provides the data storage abstraction layer for workflow executions.
package persistence

import (
	"context"
	"time"

	"github.com/pipecast/pipecast/pkg/models"
)

// Persistence is the storage entry point. Implementations expose one
// repository per aggregate plus health and lifecycle hooks.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ResearchRepository() ResearchRepository
	ScriptRepository() ScriptRepository
	VideoTaskRepository() VideoTaskRepository
	ApprovalRepository() ApprovalRepository
	PublicationRepository() PublicationRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListExecutionsOptions filters and pages workflow execution listings.
type ListExecutionsOptions struct {
	Limit   int
	Offset  int
	OwnerID string
	Status  *models.WorkflowStatus

	SortBy    string
	SortOrder string
}

// ExecutionListResult carries one page of executions plus paging metadata.
type ExecutionListResult struct {
	Executions  []*models.WorkflowExecution
	TotalCount  int64
	HasNextPage bool
}

// WorkflowRepository stores workflow executions. Status writes are guarded by
// the execution version: a writer holding a stale snapshot gets
// ErrStaleVersion instead of silently overwriting newer state.
type WorkflowRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error

	// GetByID returns (nil, nil) when no execution matches.
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)

	ListExecutions(ctx context.Context, opts ListExecutionsOptions) (*ExecutionListResult, error)

	// Transition moves the execution to the given status, bumping its version.
	// The move must be a legal state machine edge and the stored version must
	// match execution.Version.
	Transition(ctx context.Context, execution *models.WorkflowExecution, to models.WorkflowStatus) error

	// TransitionWithResults is Transition plus a results merge in the same
	// write, used when the terminal stage produces the final artifact set.
	TransitionWithResults(ctx context.Context, execution *models.WorkflowExecution, to models.WorkflowStatus, results map[string]any) error

	// Fail marks the execution failed from any non-terminal status.
	Fail(ctx context.Context, id, errorMessage string) error

	// Cancel marks the execution cancelled from any non-terminal status.
	Cancel(ctx context.Context, id string) error

	// Delete soft-deletes a terminal execution.
	Delete(ctx context.Context, id string) error
}

// ResearchRepository stores research sessions and the stage writes that touch
// them together with the owning execution.
type ResearchRepository interface {
	Create(ctx context.Context, session *models.ResearchSession) error

	// GetByID returns (nil, nil) when no session matches.
	GetByID(ctx context.Context, id string) (*models.ResearchSession, error)

	ListByExecution(ctx context.Context, executionID string) ([]*models.ResearchSession, error)

	// Update rewrites a non-completed session. Completed sessions are
	// immutable and yield ErrSessionCompleted.
	Update(ctx context.Context, session *models.ResearchSession) error

	// SaveCollectionResults writes the per-source session outcomes and the
	// execution transition in one transaction, so a crash never leaves
	// collected data on a workflow that still claims to be researching.
	SaveCollectionResults(ctx context.Context, execution *models.WorkflowExecution, sessions []*models.ResearchSession, to models.WorkflowStatus) error

	// CompleteAnalysis stamps the synthesized insights onto every running
	// session of the execution, completes them, and transitions the
	// execution, all in one transaction.
	CompleteAnalysis(ctx context.Context, execution *models.WorkflowExecution, insights *models.ResearchInsights, to models.WorkflowStatus) error
}

// ScriptRepository stores immutable script artifacts.
type ScriptRepository interface {
	Create(ctx context.Context, script *models.ScriptGeneration) error

	// GetByID returns (nil, nil) when no script matches.
	GetByID(ctx context.Context, id string) (*models.ScriptGeneration, error)

	// LatestByExecution returns the newest script for the execution, or
	// (nil, nil) when none exists.
	LatestByExecution(ctx context.Context, executionID string) (*models.ScriptGeneration, error)

	ListByExecution(ctx context.Context, executionID string) ([]*models.ScriptGeneration, error)

	// SaveScriptStage inserts the script, optionally inserts the approval
	// checkpoint when the workflow skips video generation, and transitions
	// the execution, all in one transaction.
	SaveScriptStage(ctx context.Context, execution *models.WorkflowExecution, script *models.ScriptGeneration, approval *models.WorkflowApproval, to models.WorkflowStatus) error
}

// VideoTaskRepository stores asynchronous render tasks. At most one
// non-terminal task may exist per execution; Create returns
// ErrActiveVideoTask when a second one is attempted.
type VideoTaskRepository interface {
	Create(ctx context.Context, task *models.VideoGenerationTask) error

	// GetByID returns (nil, nil) when no task matches.
	GetByID(ctx context.Context, id string) (*models.VideoGenerationTask, error)

	// GetActiveByExecution returns the non-terminal task for the execution,
	// or (nil, nil) when none exists.
	GetActiveByExecution(ctx context.Context, executionID string) (*models.VideoGenerationTask, error)

	Update(ctx context.Context, task *models.VideoGenerationTask) error

	// CompleteVideoStage marks the task completed, inserts the approval
	// checkpoint, and transitions the execution in one transaction.
	CompleteVideoStage(ctx context.Context, execution *models.WorkflowExecution, task *models.VideoGenerationTask, approval *models.WorkflowApproval, to models.WorkflowStatus) error

	// FailVideoStage marks the task failed and fails the execution in one
	// transaction.
	FailVideoStage(ctx context.Context, execution *models.WorkflowExecution, task *models.VideoGenerationTask, errorMessage string) error
}

// ApprovalRepository stores review checkpoints.
type ApprovalRepository interface {
	Create(ctx context.Context, approval *models.WorkflowApproval) error

	// GetByID returns (nil, nil) when no approval matches.
	GetByID(ctx context.Context, id string) (*models.WorkflowApproval, error)

	// GetByExecution returns the approval for the execution, or (nil, nil)
	// when none exists.
	GetByExecution(ctx context.Context, executionID string) (*models.WorkflowApproval, error)

	ListPending(ctx context.Context) ([]*models.WorkflowApproval, error)

	// Resolve applies a decision to a pending approval, optionally inserts a
	// reviewer-edited script, and transitions the execution, all in one
	// transaction. Resolving twice yields ErrApprovalAlreadyResolved.
	Resolve(ctx context.Context, execution *models.WorkflowExecution, approval *models.WorkflowApproval, editedScript *models.ScriptGeneration, to models.WorkflowStatus) error
}

// PublicationRepository stores per-platform delivery records.
type PublicationRepository interface {
	// Upsert writes the record keyed on (execution, platform). A retry of a
	// failed platform updates the existing row.
	Upsert(ctx context.Context, record *models.PublicationRecord) error

	// GetByID returns (nil, nil) when no record matches.
	GetByID(ctx context.Context, id string) (*models.PublicationRecord, error)

	ListByExecution(ctx context.Context, executionID string) ([]*models.PublicationRecord, error)

	// ListForEngagementRefresh returns published records whose engagement
	// counters are stale, oldest first.
	ListForEngagementRefresh(ctx context.Context, refreshedBefore time.Time, limit int) ([]*models.PublicationRecord, error)

	UpdateEngagement(ctx context.Context, id string, engagement models.Engagement, refreshedAt time.Time) error
}
