// Package models defines the core domain models for the research-to-publish pipeline.
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow execution.
type WorkflowStatus string

const (
	WorkflowStatusPending          WorkflowStatus = "pending"
	WorkflowStatusResearching      WorkflowStatus = "researching"
	WorkflowStatusAnalyzing        WorkflowStatus = "analyzing"
	WorkflowStatusScriptGeneration WorkflowStatus = "script_generation"
	WorkflowStatusVideoGeneration  WorkflowStatus = "video_generation"
	WorkflowStatusAwaitingApproval WorkflowStatus = "awaiting_approval"
	WorkflowStatusApproved         WorkflowStatus = "approved"
	WorkflowStatusRejected         WorkflowStatus = "rejected"
	WorkflowStatusPublishing       WorkflowStatus = "publishing"
	WorkflowStatusCompleted        WorkflowStatus = "completed"
	WorkflowStatusFailed           WorkflowStatus = "failed"
	WorkflowStatusCancelled        WorkflowStatus = "cancelled"
)

// workflowTransitions is the forward edge set of the execution state graph.
// failed and cancelled are reachable from every non-terminal state and are
// handled by CanTransition directly rather than listed per state.
var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusPending:          {WorkflowStatusResearching},
	WorkflowStatusResearching:      {WorkflowStatusAnalyzing},
	WorkflowStatusAnalyzing:        {WorkflowStatusScriptGeneration},
	WorkflowStatusScriptGeneration: {WorkflowStatusVideoGeneration, WorkflowStatusAwaitingApproval},
	WorkflowStatusVideoGeneration:  {WorkflowStatusAwaitingApproval},
	WorkflowStatusAwaitingApproval: {WorkflowStatusApproved, WorkflowStatusRejected},
	WorkflowStatusApproved:         {WorkflowStatusPublishing},
	WorkflowStatusPublishing:       {WorkflowStatusCompleted},
}

// IsTerminal reports whether the status admits no further transitions.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled, WorkflowStatusRejected:
		return true
	default:
		return false
	}
}

// Progress maps a status to a completion percentage. It is derived state for
// callers and dashboards only and never drives control decisions.
func (s WorkflowStatus) Progress() int {
	switch s {
	case WorkflowStatusPending:
		return 0
	case WorkflowStatusResearching:
		return 20
	case WorkflowStatusAnalyzing:
		return 40
	case WorkflowStatusScriptGeneration:
		return 60
	case WorkflowStatusVideoGeneration:
		return 80
	case WorkflowStatusAwaitingApproval:
		return 90
	case WorkflowStatusApproved:
		return 95
	case WorkflowStatusPublishing:
		return 98
	case WorkflowStatusCompleted:
		return 100
	case WorkflowStatusRejected:
		return 90
	case WorkflowStatusFailed, WorkflowStatusCancelled:
		return 0
	default:
		return 0
	}
}

// CanTransition reports whether moving from one status to another follows an
// edge of the state graph. failed and cancelled are allowed from any
// non-terminal state.
func CanTransition(from, to WorkflowStatus) bool {
	if from.IsTerminal() {
		return false
	}

	if to == WorkflowStatusFailed || to == WorkflowStatusCancelled {
		return true
	}

	for _, next := range workflowTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// TimingMode selects how publishing delivery is scheduled. The three modes
// are mutually exclusive per execution.
type TimingMode string

const (
	// TimingImmediate dispatches to all targets as soon as the workflow is approved.
	TimingImmediate TimingMode = "immediate"
	// TimingScheduled dispatches at a fixed caller-supplied time.
	TimingScheduled TimingMode = "scheduled"
	// TimingAuto hands scheduling to each publishing provider.
	TimingAuto TimingMode = "auto"
)

// ExecutionConfig is the caller-supplied recipe for one execution. It is
// stored verbatim so a finished or failed run can always be retried as a new
// execution with the same inputs.
type ExecutionConfig struct {
	Topic          string   `json:"topic"                     validate:"required,min=3"`
	Sources        []string `json:"sources"                   validate:"required,min=1,dive,oneof=devforum technews repotrends searchtrends"`
	Platforms      []string `json:"platforms"                 validate:"required,min=1,dive,oneof=tiktok youtube instagram"`
	VideoRequested bool     `json:"video_requested"`

	// Script generation knobs. ContentType defaults per VideoRequested when
	// empty; DurationTargetSeconds bounds the spoken length of the script.
	ContentType           string `json:"content_type,omitempty"             validate:"omitempty,oneof=short_video narration post"`
	Tone                  string `json:"tone,omitempty"`
	Style                 string `json:"style,omitempty"`
	Audience              string `json:"audience,omitempty"`
	DurationTargetSeconds int    `json:"duration_target_seconds,omitempty"  validate:"omitempty,min=10,max=600"`

	MaxItems      int        `json:"max_items,omitempty"       validate:"omitempty,min=1,max=100"`
	AnalysisDepth string     `json:"analysis_depth,omitempty"  validate:"omitempty,oneof=quick standard comprehensive"`
	AvatarID      string     `json:"avatar_id,omitempty"`
	VoiceID       string     `json:"voice_id,omitempty"`
	AspectRatio   string     `json:"aspect_ratio,omitempty"    validate:"omitempty,oneof=16:9 9:16 1:1"`
	Timing        TimingMode `json:"timing"                    validate:"required,oneof=immediate scheduled auto"`
	PublishAt     *time.Time `json:"publish_at,omitempty"      validate:"required_if=Timing scheduled,excluded_unless=Timing scheduled"`
	AutoApprove   bool       `json:"auto_approve,omitempty"`
}

// WorkflowExecution is the aggregate root of one research-to-publish run. All
// child entities (research sessions, scripts, video tasks, approvals,
// publication records) reference it and are removed with it.
type WorkflowExecution struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"  validate:"required"`
	Kind         string          `json:"kind"      validate:"required,min=3"`
	Config       ExecutionConfig `json:"config"`
	Status       WorkflowStatus  `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Results      map[string]any  `json:"results,omitempty"`

	// Version increments on every status write and guards optimistic
	// concurrency. A stale writer sees zero affected rows.
	Version int `json:"version"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Progress returns the completion percentage derived from the current status.
func (e *WorkflowExecution) Progress() int {
	return e.Status.Progress()
}
