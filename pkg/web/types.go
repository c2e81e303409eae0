// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/pipecast/pipecast/pkg/models"
)

// StartWorkflowRequest is the body of POST /workflows. The config is stored
// verbatim on the execution, so everything the pipeline needs travels here.
type StartWorkflowRequest struct {
	OwnerID string                 `json:"owner_id" validate:"required"`
	Kind    string                 `json:"kind"     validate:"required,min=3"`
	Config  models.ExecutionConfig `json:"config"   validate:"required"`
}

// CancelWorkflowRequest is the optional body of POST /workflows/:id/cancel.
type CancelWorkflowRequest struct {
	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

// ScriptEditRequest carries reviewer content changes on an approval. Empty
// fields keep the reviewed script's content; hashtags replace wholesale.
type ScriptEditRequest struct {
	Title        string   `json:"title,omitempty"`
	Hook         string   `json:"hook,omitempty"`
	Body         string   `json:"body,omitempty"`
	CallToAction string   `json:"call_to_action,omitempty"`
	Hashtags     []string `json:"hashtags,omitempty"`
}

// ResolveApprovalRequest is the body of POST /approvals/:id/resolve.
type ResolveApprovalRequest struct {
	Decision     string             `json:"decision"      validate:"required,oneof=approved rejected"`
	Approver     string             `json:"approver"      validate:"required"`
	ArtifactHash string             `json:"artifact_hash" validate:"required"`
	Feedback     string             `json:"feedback,omitempty"`
	Edit         *ScriptEditRequest `json:"edit,omitempty"`
}

// StartResearchRequest is the body of POST /research.
type StartResearchRequest struct {
	Source        string `json:"source"                   validate:"required,oneof=devforum technews repotrends searchtrends"`
	Query         string `json:"query"                    validate:"required,min=2"`
	MaxItems      int    `json:"max_items,omitempty"      validate:"omitempty,min=1,max=100"`
	AnalysisDepth string `json:"analysis_depth,omitempty" validate:"omitempty,oneof=quick standard comprehensive"`
}

// WorkflowResponse decorates an execution with its derived progress so
// dashboards never need the status-to-percent mapping.
type WorkflowResponse struct {
	*models.WorkflowExecution

	Progress int `json:"progress"`
}

// NewWorkflowResponse wraps one execution for the wire.
func NewWorkflowResponse(execution *models.WorkflowExecution) WorkflowResponse {
	return WorkflowResponse{
		WorkflowExecution: execution,
		Progress:          execution.Progress(),
	}
}

// NewWorkflowResponses wraps a page of executions.
func NewWorkflowResponses(executions []*models.WorkflowExecution) []WorkflowResponse {
	responses := make([]WorkflowResponse, 0, len(executions))

	for _, execution := range executions {
		responses = append(responses, NewWorkflowResponse(execution))
	}

	return responses
}
