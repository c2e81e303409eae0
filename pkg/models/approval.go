package models

import "time"

// ApprovalStatus is the decision state of a review checkpoint.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// AutoApprover identifies resolutions performed by the pipeline itself when
// an execution is configured to skip manual review.
const AutoApprover = "system:auto"

// WorkflowApproval is the human checkpoint between content generation and
// publishing. Exactly one approval exists per execution and it must be
// approved before the workflow may enter publishing.
type WorkflowApproval struct {
	ID          string `json:"id"`
	ExecutionID string `json:"execution_id" validate:"required"`
	ScriptID    string `json:"script_id"    validate:"required"`
	VideoTaskID string `json:"video_task_id,omitempty"`

	// ArtifactHash is the fingerprint of the script under review. Resolutions
	// must present a matching hash; a mismatch means the content changed
	// after the reviewer loaded it.
	ArtifactHash string `json:"artifact_hash"`

	Status      ApprovalStatus `json:"status"`
	Approver    string         `json:"approver,omitempty"`
	Feedback    string         `json:"feedback,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
