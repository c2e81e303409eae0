// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/services"
)

type APIHandlers struct {
	workflowService    *services.Workflow
	approvalService    *services.Approval
	researchService    *services.Research
	publicationService *services.Publication
	validator          *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	approvalService *services.Approval,
	researchService *services.Research,
	publicationService *services.Publication,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:    workflowService,
		approvalService:    approvalService,
		researchService:    researchService,
		publicationService: publicationService,
		validator:          validator,
	}
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	var req StartWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.workflowService.Start(c.Context(), services.StartRequest{
		OwnerID: req.OwnerID,
		Kind:    req.Kind,
		Config:  req.Config,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(NewWorkflowResponse(execution))
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	// Parse query parameters
	req, err := h.parseListRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	// Return structured response with pagination metadata
	return c.JSON(fiber.Map{
		"workflows":     NewWorkflowResponses(result.Executions),
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListRequest parses and validates query parameters for listing workflows.
func (h *APIHandlers) parseListRequest(c fiber.Ctx) (*services.ListRequest, error) {
	req := &services.ListRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.OwnerID = c.Query("owner_id")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		req.Status = &status
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	execution, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewWorkflowResponse(execution))
}

func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	// The body is optional; a bare cancel is legitimate.
	var req CancelWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.workflowService.Cancel(c.Context(), id, req.Reason, req.CancelledBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewWorkflowResponse(execution))
}

func (h *APIHandlers) RetryWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	retry, err := h.workflowService.Retry(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(NewWorkflowResponse(retry))
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.workflowService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetWorkflowPublications(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	records, err := h.publicationService.ListByExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"publications": records,
		"total_count":  len(records),
	})
}

func (h *APIHandlers) GetPendingApprovals(c fiber.Ctx) error {
	status := c.Query("status", string(models.ApprovalStatusPending))
	if status != string(models.ApprovalStatusPending) {
		return badRequest(c, "only status=pending is supported")
	}

	approvals, err := h.approvalService.ListPending(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"approvals":   approvals,
		"total_count": len(approvals),
	})
}

func (h *APIHandlers) GetWorkflowApproval(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	approval, err := h.approvalService.GetByExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}

func (h *APIHandlers) ResolveApproval(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Approval ID is required")
	}

	var req ResolveApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	resolve := services.ResolveApprovalRequest{
		ApprovalID:   id,
		Decision:     req.Decision,
		Approver:     req.Approver,
		ArtifactHash: req.ArtifactHash,
		Feedback:     req.Feedback,
	}

	if req.Edit != nil {
		resolve.Edit = &services.ScriptEditRequest{
			Title:        req.Edit.Title,
			Hook:         req.Edit.Hook,
			Body:         req.Edit.Body,
			CallToAction: req.Edit.CallToAction,
			Hashtags:     req.Edit.Hashtags,
		}
	}

	approval, err := h.approvalService.Resolve(c.Context(), resolve)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}

func (h *APIHandlers) StartResearch(c fiber.Ctx) error {
	var req StartResearchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.researchService.Start(c.Context(), services.StartResearchRequest{
		Source:        req.Source,
		Query:         req.Query,
		MaxItems:      req.MaxItems,
		AnalysisDepth: req.AnalysisDepth,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

func (h *APIHandlers) GetResearch(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Research session ID is required")
	}

	session, err := h.researchService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "PipeCast API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "PipeCast API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
