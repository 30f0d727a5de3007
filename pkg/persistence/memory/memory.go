// Package memory provides an in-process persistence implementation.
// Every value crossing the package boundary is deep-copied.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// Persistence implements persistence.Persistence with maps guarded by a RWMutex.
type Persistence struct {
	mu sync.RWMutex

	definitions map[string]*models.WorkflowDefinition
	instances   map[string]*models.WorkflowInstance
	approvals   map[string]*models.ApprovalRequest
	approvalSeq []string
	templates   map[string]*models.WorkflowTemplate
}

func NewPersistence() *Persistence {
	return &Persistence{
		definitions: make(map[string]*models.WorkflowDefinition),
		instances:   make(map[string]*models.WorkflowInstance),
		approvals:   make(map[string]*models.ApprovalRequest),
		templates:   make(map[string]*models.WorkflowTemplate),
	}
}

func (p *Persistence) DefinitionRepository() persistence.DefinitionRepository {
	return &definitionRepository{p}
}

func (p *Persistence) InstanceRepository() persistence.InstanceRepository {
	return &instanceRepository{p}
}

func (p *Persistence) ApprovalRepository() persistence.ApprovalRepository {
	return &approvalRepository{p}
}

func (p *Persistence) TemplateRepository() persistence.TemplateRepository {
	return &templateRepository{p}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type definitionRepository struct {
	*Persistence
}

func (r *definitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.definitions[definition.ID] = definition.Clone()

	return nil
}

func (r *definitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definition, ok := r.definitions[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "definition", id, persistence.ErrDefinitionNotFound)
	}

	return definition.Clone(), nil
}

func (r *definitionRepository) List(_ context.Context, filter persistence.DefinitionFilter) ([]*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]*models.WorkflowDefinition, 0)

	for _, definition := range r.definitions {
		if filter.Matches(definition) {
			definitions = append(definitions, definition.Clone())
		}
	}

	sort.Slice(definitions, func(i, j int) bool {
		if definitions[i].CreatedAt.Equal(definitions[j].CreatedAt) {
			return definitions[i].ID < definitions[j].ID
		}

		return definitions[i].CreatedAt.After(definitions[j].CreatedAt)
	})

	return definitions, nil
}

func (r *definitionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.definitions[id]; !ok {
		return persistence.NewEntityError("Delete", "definition", id, persistence.ErrDefinitionNotFound)
	}

	delete(r.definitions, id)

	return nil
}

type instanceRepository struct {
	*Persistence
}

func (r *instanceRepository) Save(_ context.Context, instance *models.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances[instance.ID] = instance.Clone()

	return nil
}

func (r *instanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.instances[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "instance", id, persistence.ErrInstanceNotFound)
	}

	return instance.Clone(), nil
}

func (r *instanceRepository) List(_ context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]*models.WorkflowInstance, 0)

	for _, instance := range r.instances {
		if filter.Matches(instance) {
			instances = append(instances, instance.Clone())
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		if instances[i].StartedAt.Equal(instances[j].StartedAt) {
			return instances[i].ID < instances[j].ID
		}

		return instances[i].StartedAt.After(instances[j].StartedAt)
	})

	return instances, nil
}

type approvalRepository struct {
	*Persistence
}

func (r *approvalRepository) Save(_ context.Context, request *models.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.approvals[request.ID]; !ok {
		r.approvalSeq = append(r.approvalSeq, request.ID)
	}

	r.approvals[request.ID] = request.Clone()

	return nil
}

func (r *approvalRepository) GetByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	request, ok := r.approvals[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "approval", id, persistence.ErrApprovalNotFound)
	}

	return request.Clone(), nil
}

func (r *approvalRepository) List(_ context.Context, filter persistence.ApprovalFilter) ([]*models.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requests := make([]*models.ApprovalRequest, 0)

	for _, id := range r.approvalSeq {
		if request := r.approvals[id]; filter.Matches(request) {
			requests = append(requests, request.Clone())
		}
	}

	return requests, nil
}

type templateRepository struct {
	*Persistence
}

func (r *templateRepository) Save(_ context.Context, template *models.WorkflowTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.templates[template.ID] = template.Clone()

	return nil
}

func (r *templateRepository) GetByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	template, ok := r.templates[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "template", id, persistence.ErrTemplateNotFound)
	}

	return template.Clone(), nil
}

func (r *templateRepository) List(_ context.Context) ([]*models.WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	templates := make([]*models.WorkflowTemplate, 0, len(r.templates))
	for _, template := range r.templates {
		templates = append(templates, template.Clone())
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })

	return templates, nil
}
