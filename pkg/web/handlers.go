// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/trigger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const (
	// WebhookSecretHeader carries the secret configured on a WEBHOOK trigger.
	WebhookSecretHeader = "X-Webhook-Secret"

	// WebhookStarter is recorded as the starter of webhook instances.
	WebhookStarter = "webhook"
)

type APIHandlers struct {
	definitions *services.Definitions
	engine      *services.Engine
	templates   *services.Templates
	stats       *services.Statistics
	triggers    *trigger.Dispatcher
	validator   *validator.Validate
}

func NewAPIHandlers(
	definitions *services.Definitions,
	engine *services.Engine,
	templates *services.Templates,
	stats *services.Statistics,
	triggers *trigger.Dispatcher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		definitions: definitions,
		engine:      engine,
		templates:   templates,
		stats:       stats,
		triggers:    triggers,
		validator:   validator,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	d := router.Group("/definitions")
	d.Get("/", h.GetDefinitions)
	d.Post("/", h.CreateDefinition)
	d.Get("/search", h.SearchDefinitions)
	d.Get("/:id", h.GetDefinition)
	d.Patch("/:id", h.UpdateDefinition)
	d.Delete("/:id", h.DeleteDefinition)
	d.Post("/:id/activate", h.ActivateDefinition)
	d.Post("/:id/deactivate", h.DeactivateDefinition)
	d.Post("/:id/clone", h.CloneDefinition)

	t := router.Group("/templates")
	t.Get("/", h.GetTemplates)
	t.Post("/", h.CreateTemplate)
	t.Get("/:id", h.GetTemplate)
	t.Post("/:id/instantiate", h.InstantiateTemplate)

	i := router.Group("/instances")
	i.Get("/", h.GetInstances)
	i.Post("/", h.StartInstance)
	i.Get("/:id", h.GetInstance)
	i.Post("/:id/pause", h.PauseInstance)
	i.Post("/:id/resume", h.ResumeInstance)
	i.Post("/:id/cancel", h.CancelInstance)
	i.Post("/:id/retry", h.RetryInstance)
	i.Post("/:id/complete-task", h.CompleteTask)
	i.Get("/:id/timeline", h.GetTimeline)
	i.Get("/:id/approvals", h.GetApprovalHistory)
	i.Get("/:id/variables", h.GetVariables)
	i.Put("/:id/variables/:name", h.SetVariable)

	a := router.Group("/approvals")
	a.Get("/pending", h.GetPendingApprovals)
	a.Get("/:id", h.GetApproval)
	a.Post("/:id/approve", h.Approve)
	a.Post("/:id/reject", h.Reject)
	a.Post("/:id/delegate", h.Delegate)

	router.Post("/webhooks/:definitionId/:triggerId", h.FireWebhook)

	router.Get("/stats", h.GetStats)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.definitions.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Procflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Procflow API is healthy"
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

// bind decodes and validates a JSON body, writing the 400 response itself on failure.
func (h *APIHandlers) bind(c fiber.Ctx, req any) (bool, error) {
	if err := c.Bind().JSON(req); err != nil {
		return false, badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return false, badRequest(c, err.Error())
	}

	return true, nil
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	req, err := parseListDefinitionsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.definitions.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"definitions":   result.Definitions,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

// parseListDefinitionsRequest parses query parameters for listing definitions.
func parseListDefinitionsRequest(c fiber.Ctx) (*services.ListDefinitionsRequest, error) {
	req := &services.ListDefinitionsRequest{
		OrganizationID: c.Query("organization_id"),
		Category:       models.WorkflowCategory(c.Query("category")),
	}

	limit, offset, err := parsePage(c)
	if err != nil {
		return nil, err
	}

	req.Limit = limit
	req.Offset = offset

	if activeStr := c.Query("is_active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return nil, err
		}

		req.IsActive = &active
	}

	return req, nil
}

func parsePage(c fiber.Ctx) (int, int, error) {
	var limit, offset int

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}

		limit = parsed
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}

		offset = parsed
	}

	return limit, offset, nil
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	definition, err := h.definitions.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	definition, err := h.definitions.Create(c.Context(), services.CreateDefinitionRequest{
		Name:           req.Name,
		Description:    req.Description,
		Locales:        req.Locales,
		Category:       req.Category,
		Steps:          req.Steps,
		Triggers:       req.Triggers,
		Variables:      req.Variables,
		OrganizationID: req.OrganizationID,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) UpdateDefinition(c fiber.Ctx) error {
	var req UpdateDefinitionRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	definition, err := h.definitions.Update(c.Context(), c.Params("id"), services.UpdateDefinitionRequest{
		Name:            req.Name,
		Description:     req.Description,
		Locales:         req.Locales,
		Category:        req.Category,
		Steps:           req.Steps,
		Triggers:        req.Triggers,
		Variables:       req.Variables,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx) error {
	err := h.definitions.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateDefinition(c fiber.Ctx) error {
	definition, err := h.definitions.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) DeactivateDefinition(c fiber.Ctx) error {
	definition, err := h.definitions.Deactivate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CloneDefinition(c fiber.Ctx) error {
	var req CloneDefinitionRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	cloned, err := h.definitions.Clone(c.Context(), c.Params("id"), req.Name, req.Locales)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(cloned)
}

func (h *APIHandlers) SearchDefinitions(c fiber.Ctx) error {
	organizationID := c.Query("organization_id")
	if organizationID == "" {
		return badRequest(c, "organization_id is required")
	}

	definitions, err := h.definitions.Search(c.Context(), organizationID, c.Query("q"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"definitions": definitions,
		"total_count": len(definitions),
	})
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templates, err := h.templates.List(c.Context(), models.WorkflowCategory(c.Query("category")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates":   templates,
		"total_count": len(templates),
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	template, err := h.templates.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var req CreateTemplateRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	template, err := h.templates.Create(c.Context(), services.CreateTemplateRequest{
		Name:        req.Name,
		Description: req.Description,
		Locales:     req.Locales,
		Category:    req.Category,
		Blueprint:   req.Blueprint,
		Rating:      req.Rating,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) InstantiateTemplate(c fiber.Ctx) error {
	var req InstantiateTemplateRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	definition, err := h.templates.Instantiate(c.Context(), c.Params("id"), services.InstantiateRequest{
		OrganizationID: req.OrganizationID,
		CreatedBy:      req.CreatedBy,
		Name:           req.Name,
		Description:    req.Description,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	limit, offset, err := parsePage(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.engine.ListInstances(c.Context(), services.ListInstancesRequest{
		Limit:          limit,
		Offset:         offset,
		OrganizationID: c.Query("organization_id"),
		DefinitionID:   c.Query("definition_id"),
		Status:         models.InstanceStatus(c.Query("status")),
		StartedBy:      c.Query("started_by"),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances":     result.Instances,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  limit,
			"offset": offset,
		},
	})
}

func (h *APIHandlers) StartInstance(c fiber.Ctx) error {
	var req StartInstanceRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	instance, err := h.engine.Start(c.Context(), services.StartRequest{
		DefinitionID: req.DefinitionID,
		StartedBy:    req.StartedBy,
		Variables:    req.Variables,
		Priority:     req.Priority,
		DueDate:      req.DueDate,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.engine.GetInstance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) PauseInstance(c fiber.Ctx) error {
	instance, err := h.engine.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) ResumeInstance(c fiber.Ctx) error {
	instance, err := h.engine.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	var req CancelInstanceRequest

	// The body is optional.
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	instance, err := h.engine.Cancel(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) RetryInstance(c fiber.Ctx) error {
	instance, err := h.engine.RetryFailedStep(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	var req CompleteTaskRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	instance, err := h.engine.CompleteTask(c.Context(), c.Params("id"), req.Output, req.CompletedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetTimeline(c fiber.Ctx) error {
	timeline, err := h.engine.Timeline(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"instance_id": c.Params("id"),
		"timeline":    timeline,
	})
}

func (h *APIHandlers) GetVariables(c fiber.Ctx) error {
	variables, err := h.engine.GetVariables(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(variables)
}

func (h *APIHandlers) SetVariable(c fiber.Ctx) error {
	var req SetVariableRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	instance, err := h.engine.SetVariable(c.Context(), c.Params("id"), c.Params("name"), req.Value)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetApprovalHistory(c fiber.Ctx) error {
	history, err := h.engine.ApprovalHistory(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"instance_id": c.Params("id"),
		"approvals":   history,
	})
}

func (h *APIHandlers) GetPendingApprovals(c fiber.Ctx) error {
	assignee := c.Query("assignee")
	if assignee == "" {
		return badRequest(c, "assignee is required")
	}

	pending, err := h.engine.ListPending(c.Context(), assignee, c.Query("organization_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"approvals":   pending,
		"total_count": len(pending),
	})
}

func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	request, err := h.engine.GetApproval(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) Approve(c fiber.Ctx) error {
	var req ApproveRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	outcome, err := h.engine.Approve(c.Context(), c.Params("id"), req.Approver, req.Comments)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ApprovalOutcomeResponse{Request: outcome.Request, Instance: outcome.Instance})
}

func (h *APIHandlers) Reject(c fiber.Ctx) error {
	var req RejectRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	outcome, err := h.engine.Reject(c.Context(), c.Params("id"), req.Rejecter, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ApprovalOutcomeResponse{Request: outcome.Request, Instance: outcome.Instance})
}

func (h *APIHandlers) Delegate(c fiber.Ctx) error {
	var req DelegateRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	outcome, err := h.engine.Delegate(c.Context(), c.Params("id"), req.DelegateTo, req.DelegatedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(ApprovalOutcomeResponse{Request: outcome.Request, Instance: outcome.Instance})
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	organizationID := c.Query("organization_id")
	if organizationID == "" {
		return badRequest(c, "organization_id is required")
	}

	stats, err := h.stats.Compute(c.Context(), organizationID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

// FireWebhook starts an instance from a WEBHOOK trigger. The JSON body, if any, becomes
// trigger.payload.
func (h *APIHandlers) FireWebhook(c fiber.Ctx) error {
	var payload map[string]any

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	instance, err := h.triggers.Fire(c.Context(), trigger.Firing{
		DefinitionID: c.Params("definitionId"),
		TriggerID:    c.Params("triggerId"),
		Type:         models.TriggerTypeWebhook,
		StartedBy:    WebhookStarter,
		Payload:      payload,
		Secret:       c.Get(WebhookSecretHeader),
	})
	if err != nil {
		if errors.Is(err, trigger.ErrInvalidSecret) {
			return unauthorized(c, err.Error())
		}

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}
