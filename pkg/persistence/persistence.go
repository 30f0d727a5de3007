// Package persistence provides the storage abstraction for definitions, instances,
// approval requests and templates.
package persistence

import (
	"context"
	"slices"

	"github.com/dukex/procflow/pkg/models"
)

type Persistence interface {
	DefinitionRepository() DefinitionRepository
	InstanceRepository() InstanceRepository
	ApprovalRepository() ApprovalRepository
	TemplateRepository() TemplateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores workflow definitions. List returns newest first.
type DefinitionRepository interface {
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context, filter DefinitionFilter) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
}

// InstanceRepository stores workflow instances. List returns newest first.
type InstanceRepository interface {
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	List(ctx context.Context, filter InstanceFilter) ([]*models.WorkflowInstance, error)
}

// ApprovalRepository stores approval requests. List returns them in request order.
type ApprovalRepository interface {
	Save(ctx context.Context, request *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	List(ctx context.Context, filter ApprovalFilter) ([]*models.ApprovalRequest, error)
}

// TemplateRepository stores custom templates. Built-in templates live in code.
type TemplateRepository interface {
	Save(ctx context.Context, template *models.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	List(ctx context.Context) ([]*models.WorkflowTemplate, error)
}

// DefinitionFilter narrows definition listings. Zero values match everything.
type DefinitionFilter struct {
	OrganizationID string
	Category       models.WorkflowCategory
	IsActive       *bool
}

func (f DefinitionFilter) Matches(definition *models.WorkflowDefinition) bool {
	if f.OrganizationID != "" && definition.OrganizationID != f.OrganizationID {
		return false
	}

	if f.Category != "" && definition.Category != f.Category {
		return false
	}

	if f.IsActive != nil && definition.IsActive != *f.IsActive {
		return false
	}

	return true
}

// InstanceFilter narrows instance listings. Zero values match everything.
type InstanceFilter struct {
	OrganizationID string
	DefinitionID   string
	Statuses       []models.InstanceStatus
	StartedBy      string
}

func (f InstanceFilter) Matches(instance *models.WorkflowInstance) bool {
	if f.OrganizationID != "" && instance.OrganizationID != f.OrganizationID {
		return false
	}

	if f.DefinitionID != "" && instance.DefinitionID != f.DefinitionID {
		return false
	}

	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, instance.Status) {
		return false
	}

	if f.StartedBy != "" && instance.StartedBy != f.StartedBy {
		return false
	}

	return true
}

// ApprovalFilter narrows approval listings. Assignees matches any of the given values.
type ApprovalFilter struct {
	OrganizationID string
	InstanceID     string
	Status         models.ApprovalStatus
	Assignees      []string
}

func (f ApprovalFilter) Matches(request *models.ApprovalRequest) bool {
	if f.OrganizationID != "" && request.OrganizationID != f.OrganizationID {
		return false
	}

	if f.InstanceID != "" && request.InstanceID != f.InstanceID {
		return false
	}

	if f.Status != "" && request.Status != f.Status {
		return false
	}

	if len(f.Assignees) > 0 && !slices.Contains(f.Assignees, request.Assignee) {
		return false
	}

	return true
}
