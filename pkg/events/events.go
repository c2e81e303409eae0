// Package events defines event types and structures for pipeline lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/pipecast/pipecast/pkg/models"
)

type EventType string

// WorkflowTopic carries every workflow and research event. A single topic
// keeps per-execution ordering: messages are keyed by execution ID, so all
// events of one run land on the same partition.
const WorkflowTopic = "pipecast.workflows"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Stage advancement. Published whenever an execution enters a status that
	// has a worker-side stage handler.
	WorkflowStageAvailableEvent EventType = "workflow.stage.available"

	// Workflow lifecycle events.
	WorkflowCompletedEvent EventType = "workflow.completed"
	WorkflowFailedEvent    EventType = "workflow.failed"
	WorkflowCancelledEvent EventType = "workflow.cancelled"

	// Approval checkpoint events.
	ApprovalRequestedEvent EventType = "workflow.approval.requested"
	ApprovalResolvedEvent  EventType = "workflow.approval.resolved"

	// Standalone research events.
	ResearchRequestedEvent EventType = "research.session.requested"
)

// Stage identifiers carried by WorkflowStageAvailable. Each names one worker
// handler; the approval checkpoint has none because it is resolved through
// the API, not by a worker.
const (
	StageResearch = "research"
	StageAnalysis = "analysis"
	StageScript   = "script"
	StageVideo    = "video"
	StagePublish  = "publish"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"execution_id"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// WorkflowStageAvailable signals that an execution is ready for the named
// stage. Handlers re-read the execution before acting, so a stale or
// duplicate delivery degrades to a no-op.
type WorkflowStageAvailable struct {
	BaseEvent

	Stage  string                `json:"stage"`
	Status models.WorkflowStatus `json:"status"`
}

func (w WorkflowStageAvailable) GetType() EventType {
	return WorkflowStageAvailableEvent
}

type WorkflowCompleted struct {
	BaseEvent

	Results  map[string]any `json:"results,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func (w WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowFailed struct {
	BaseEvent

	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

func (w WorkflowFailed) GetType() EventType {
	return WorkflowFailedEvent
}

type WorkflowCancelled struct {
	BaseEvent

	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

func (w WorkflowCancelled) GetType() EventType {
	return WorkflowCancelledEvent
}

// ApprovalRequested is emitted when an execution reaches the review
// checkpoint. Consumers can route it to notification channels.
type ApprovalRequested struct {
	BaseEvent

	ApprovalID   string `json:"approval_id"`
	ScriptID     string `json:"script_id"`
	ArtifactHash string `json:"artifact_hash"`
}

func (a ApprovalRequested) GetType() EventType {
	return ApprovalRequestedEvent
}

type ApprovalResolved struct {
	BaseEvent

	ApprovalID string                `json:"approval_id"`
	Decision   models.ApprovalStatus `json:"decision"`
	Approver   string                `json:"approver"`
}

func (a ApprovalResolved) GetType() EventType {
	return ApprovalResolvedEvent
}

// ResearchRequested asks a worker to run one standalone research session
// that is not attached to a workflow execution.
type ResearchRequested struct {
	BaseEvent

	SessionID string `json:"session_id"`
}

func (r ResearchRequested) GetType() EventType {
	return ResearchRequestedEvent
}

func NewBaseEvent(eventType EventType, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}
