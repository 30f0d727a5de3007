package file

import (
	"context"
	"errors"
	"io/fs"
	"sort"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

type definitionRepository struct {
	fp *Persistence
}

func (r *definitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	return r.fp.write(definitionsDir, definition.ID, definition)
}

func (r *definitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition

	err := r.fp.read(definitionsDir, id, &definition)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewEntityError("GetByID", "definition", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "definition", id, err)
	}

	return &definition, nil
}

func (r *definitionRepository) List(_ context.Context, filter persistence.DefinitionFilter) ([]*models.WorkflowDefinition, error) {
	definitions := make([]*models.WorkflowDefinition, 0)

	err := r.fp.readAll(definitionsDir, func(id string) error {
		var definition models.WorkflowDefinition

		err := r.fp.readLocked(definitionsDir, id, &definition)
		if err != nil {
			return err
		}

		if filter.Matches(&definition) {
			definitions = append(definitions, &definition)
		}

		return nil
	})
	if err != nil {
		return nil, err
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
	err := r.fp.remove(definitionsDir, id)
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.NewEntityError("Delete", "definition", id, persistence.ErrDefinitionNotFound)
	}

	return err
}

type instanceRepository struct {
	fp *Persistence
}

func (r *instanceRepository) Save(_ context.Context, instance *models.WorkflowInstance) error {
	return r.fp.write(instancesDir, instance.ID, instance)
}

func (r *instanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	err := r.fp.read(instancesDir, id, &instance)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewEntityError("GetByID", "instance", id, persistence.ErrInstanceNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "instance", id, err)
	}

	return &instance, nil
}

func (r *instanceRepository) List(_ context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	instances := make([]*models.WorkflowInstance, 0)

	err := r.fp.readAll(instancesDir, func(id string) error {
		var instance models.WorkflowInstance

		err := r.fp.readLocked(instancesDir, id, &instance)
		if err != nil {
			return err
		}

		if filter.Matches(&instance) {
			instances = append(instances, &instance)
		}

		return nil
	})
	if err != nil {
		return nil, err
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
	fp *Persistence
}

func (r *approvalRepository) Save(_ context.Context, request *models.ApprovalRequest) error {
	return r.fp.write(approvalsDir, request.ID, request)
}

func (r *approvalRepository) GetByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	var request models.ApprovalRequest

	err := r.fp.read(approvalsDir, id, &request)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewEntityError("GetByID", "approval", id, persistence.ErrApprovalNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "approval", id, err)
	}

	return &request, nil
}

// List orders by request time; files carry no insertion sequence.
func (r *approvalRepository) List(_ context.Context, filter persistence.ApprovalFilter) ([]*models.ApprovalRequest, error) {
	requests := make([]*models.ApprovalRequest, 0)

	err := r.fp.readAll(approvalsDir, func(id string) error {
		var request models.ApprovalRequest

		err := r.fp.readLocked(approvalsDir, id, &request)
		if err != nil {
			return err
		}

		if filter.Matches(&request) {
			requests = append(requests, &request)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].RequestedAt.Before(requests[j].RequestedAt)
	})

	return requests, nil
}

type templateRepository struct {
	fp *Persistence
}

func (r *templateRepository) Save(_ context.Context, template *models.WorkflowTemplate) error {
	return r.fp.write(templatesDir, template.ID, template)
}

func (r *templateRepository) GetByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate

	err := r.fp.read(templatesDir, id, &template)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewEntityError("GetByID", "template", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "template", id, err)
	}

	return &template, nil
}

func (r *templateRepository) List(_ context.Context) ([]*models.WorkflowTemplate, error) {
	templates := make([]*models.WorkflowTemplate, 0)

	err := r.fp.readAll(templatesDir, func(id string) error {
		var template models.WorkflowTemplate

		err := r.fp.readLocked(templatesDir, id, &template)
		if err != nil {
			return err
		}

		templates = append(templates, &template)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })

	return templates, nil
}
