package services

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/google/uuid"
)

// Templates is the catalog of built-in and custom definition blueprints.
// Built-in templates ship with the binary; custom ones live in the TemplateRepository.
type Templates struct {
	persistence persistence.Persistence
	definitions *Definitions
	logger      *slog.Logger
	now         func() time.Time

	builtIn map[string]*models.WorkflowTemplate

	// mu guards usage counters.
	mu sync.Mutex
}

// NewTemplates creates the catalog and loads the built-in templates.
func NewTemplates(logger *slog.Logger, persistence persistence.Persistence, definitions *Definitions) (*Templates, error) {
	builtIn, err := loadBuiltinTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in templates: %w", err)
	}

	t := &Templates{
		persistence: persistence,
		definitions: definitions,
		logger:      logger.With("module", "templates"),
		now:         func() time.Time { return time.Now().UTC() },
		builtIn:     make(map[string]*models.WorkflowTemplate, len(builtIn)),
	}

	for _, template := range builtIn {
		t.builtIn[template.ID] = template
	}

	return t, nil
}

// List returns built-in and custom templates, optionally restricted to one category,
// highest rating first.
func (t *Templates) List(ctx context.Context, category models.WorkflowCategory) ([]*models.WorkflowTemplate, error) {
	custom, err := t.persistence.TemplateRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	t.mu.Lock()
	all := make([]*models.WorkflowTemplate, 0, len(t.builtIn)+len(custom))
	for _, template := range t.builtIn {
		all = append(all, template.Clone())
	}
	t.mu.Unlock()

	all = append(all, custom...)

	if category != "" {
		all = slices.DeleteFunc(all, func(template *models.WorkflowTemplate) bool {
			return template.Category != category
		})
	}

	slices.SortFunc(all, func(a, b *models.WorkflowTemplate) int {
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return all, nil
}

// Get returns a template by id, built-in or custom.
func (t *Templates) Get(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	t.mu.Lock()
	template, ok := t.builtIn[id]
	if ok {
		template = template.Clone()
	}
	t.mu.Unlock()

	if ok {
		return template, nil
	}

	return t.persistence.TemplateRepository().GetByID(ctx, id)
}

// CreateTemplateRequest describes a custom template.
type CreateTemplateRequest struct {
	Name        string
	Description string
	Locales     map[string]models.LocalizedText
	Category    models.WorkflowCategory
	Blueprint   models.TemplateBlueprint
	Rating      float64
}

// Create stores a new custom template.
func (t *Templates) Create(ctx context.Context, req CreateTemplateRequest) (*models.WorkflowTemplate, error) {
	template := &models.WorkflowTemplate{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Locales:     req.Locales,
		Category:    req.Category,
		Version:     1,
		Blueprint:   req.Blueprint,
		Rating:      req.Rating,
		CreatedAt:   t.now(),
	}

	err := validateTemplate("CreateTemplate", template)
	if err != nil {
		return nil, err
	}

	err = t.persistence.TemplateRepository().Save(ctx, template.Clone())
	if err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	t.logger.InfoContext(ctx, "template created", "template_id", template.ID, "category", template.Category)

	return template, nil
}

// Register stores templates loaded from files as custom templates. A template without
// an id gets one; ids of built-in templates cannot be reused.
func (t *Templates) Register(ctx context.Context, templates []*models.WorkflowTemplate) error {
	for _, template := range templates {
		err := validateTemplate("RegisterTemplate", template)
		if err != nil {
			return err
		}

		if template.ID == "" {
			template.ID = uuid.NewString()
		}

		if _, ok := t.builtIn[template.ID]; ok {
			return NewValidationError("RegisterTemplate", "TEMPLATE_ID_RESERVED",
				fmt.Sprintf("template id %s belongs to a built-in template", template.ID), ErrInvalidTemplate)
		}

		template.IsBuiltIn = false
		if template.CreatedAt.IsZero() {
			template.CreatedAt = t.now()
		}

		err = t.persistence.TemplateRepository().Save(ctx, template)
		if err != nil {
			return fmt.Errorf("failed to register template %s: %w", template.ID, err)
		}

		t.logger.InfoContext(ctx, "template registered", "template_id", template.ID, "name", template.Name)
	}

	return nil
}

// InstantiateRequest carries the owner of the new definition and optional overrides.
type InstantiateRequest struct {
	OrganizationID string
	CreatedBy      string
	Name           string
	Description    string
}

// Instantiate creates a draft definition from a template and counts the usage.
func (t *Templates) Instantiate(ctx context.Context, templateID string, req InstantiateRequest) (*models.WorkflowDefinition, error) {
	template, err := t.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}

	name := template.Name
	if strings.TrimSpace(req.Name) != "" {
		name = req.Name
	}

	description := template.Description
	if strings.TrimSpace(req.Description) != "" {
		description = req.Description
	}

	definition, err := t.definitions.Create(ctx, CreateDefinitionRequest{
		Name:           name,
		Description:    description,
		Locales:        template.Locales,
		Category:       template.Category,
		Steps:          template.Blueprint.Steps,
		Triggers:       template.Blueprint.Triggers,
		Variables:      template.Blueprint.Variables,
		OrganizationID: req.OrganizationID,
		CreatedBy:      req.CreatedBy,
		TemplateID:     template.ID,
	})
	if err != nil {
		return nil, err
	}

	err = t.countUsage(ctx, template.ID)
	if err != nil {
		t.logger.WarnContext(ctx, "failed to count template usage", "template_id", template.ID, "error", err)
	}

	return definition, nil
}

func (t *Templates) countUsage(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if template, ok := t.builtIn[id]; ok {
		template.UsageCount++

		return nil
	}

	template, err := t.persistence.TemplateRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}

	template.UsageCount++

	return t.persistence.TemplateRepository().Save(ctx, template)
}
