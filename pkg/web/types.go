// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"time"

	"github.com/dukex/procflow/pkg/models"
)

// CreateDefinitionRequest represents the request body for creating a draft definition.
type CreateDefinitionRequest struct {
	Name           string                          `json:"name"                validate:"required,min=3"`
	Description    string                          `json:"description"`
	Locales        map[string]models.LocalizedText `json:"locales,omitempty"`
	Category       models.WorkflowCategory         `json:"category,omitempty"`
	Steps          []*models.WorkflowStep          `json:"steps"`
	Triggers       []*models.WorkflowTrigger       `json:"triggers,omitempty"`
	Variables      []*models.WorkflowVariable      `json:"variables,omitempty"`
	OrganizationID string                          `json:"organization_id"     validate:"required"`
	CreatedBy      string                          `json:"created_by"`
}

// UpdateDefinitionRequest represents the request body for updating a definition.
// All fields are optional to support partial updates.
type UpdateDefinitionRequest struct {
	Name            *string                         `json:"name,omitempty"             validate:"omitempty,min=3"`
	Description     *string                         `json:"description,omitempty"`
	Locales         map[string]models.LocalizedText `json:"locales,omitempty"`
	Category        *models.WorkflowCategory        `json:"category,omitempty"`
	Steps           []*models.WorkflowStep          `json:"steps,omitempty"`
	Triggers        []*models.WorkflowTrigger       `json:"triggers,omitempty"`
	Variables       []*models.WorkflowVariable      `json:"variables,omitempty"`
	ExpectedVersion *int                            `json:"expected_version,omitempty" validate:"omitempty,min=1"`
}

// CloneDefinitionRequest names the copy.
type CloneDefinitionRequest struct {
	Name    string                          `json:"name"              validate:"required,min=3"`
	Locales map[string]models.LocalizedText `json:"locales,omitempty"`
}

// CreateTemplateRequest represents the request body for a custom template.
type CreateTemplateRequest struct {
	Name        string                          `json:"name"              validate:"required,min=3"`
	Description string                          `json:"description"`
	Locales     map[string]models.LocalizedText `json:"locales,omitempty"`
	Category    models.WorkflowCategory         `json:"category,omitempty"`
	Blueprint   models.TemplateBlueprint        `json:"blueprint"`
	Rating      float64                         `json:"rating"            validate:"min=0,max=5"`
}

// InstantiateTemplateRequest represents the request body for creating a definition from a template.
type InstantiateTemplateRequest struct {
	OrganizationID string `json:"organization_id"       validate:"required"`
	CreatedBy      string `json:"created_by"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
}

// StartInstanceRequest represents the request body for starting an instance.
type StartInstanceRequest struct {
	DefinitionID string          `json:"definition_id"      validate:"required"`
	StartedBy    string          `json:"started_by"         validate:"required"`
	Variables    map[string]any  `json:"variables,omitempty"`
	Priority     models.Priority `json:"priority,omitempty" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	DueDate      *time.Time      `json:"due_date,omitempty"`
}

// CancelInstanceRequest carries the optional cancellation reason.
type CancelInstanceRequest struct {
	Reason string `json:"reason"`
}

// CompleteTaskRequest carries the output of a human task.
type CompleteTaskRequest struct {
	Output      map[string]any `json:"output"`
	CompletedBy string         `json:"completed_by" validate:"required"`
}

// SetVariableRequest sets one instance variable.
type SetVariableRequest struct {
	Value any `json:"value"`
}

// ApproveRequest represents the request body for approving a request.
type ApproveRequest struct {
	Approver string `json:"approver" validate:"required"`
	Comments string `json:"comments"`
}

// RejectRequest represents the request body for rejecting a request.
type RejectRequest struct {
	Rejecter string `json:"rejecter" validate:"required"`
	Reason   string `json:"reason"   validate:"required"`
}

// DelegateRequest represents the request body for handing a request to another principal.
type DelegateRequest struct {
	DelegateTo  string `json:"delegate_to"  validate:"required"`
	DelegatedBy string `json:"delegated_by" validate:"required"`
}

// ApprovalOutcomeResponse is returned by decision endpoints.
type ApprovalOutcomeResponse struct {
	Request  *models.ApprovalRequest  `json:"request"`
	Instance *models.WorkflowInstance `json:"instance"`
}
