package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Definitions manages the lifecycle of workflow definitions.
type Definitions struct {
	persistence persistence.Persistence
	events      *emitter
	logger      *slog.Logger
	now         func() time.Time

	// mu serializes read-modify-write cycles on definitions.
	mu sync.Mutex
}

// NewDefinitions creates a new definition service. publisher may be nil.
func NewDefinitions(logger *slog.Logger, persistence persistence.Persistence, publisher eventbus.EventPublisher) *Definitions {
	logger = logger.With("module", "definitions")

	return &Definitions{
		persistence: persistence,
		events:      &emitter{publisher: publisher, logger: logger},
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck checks the health of the persistence layer.
func (d *Definitions) HealthCheck(ctx context.Context) (string, bool) {
	if d.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := d.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateDefinitionRequest describes a new draft definition.
type CreateDefinitionRequest struct {
	Name           string
	Description    string
	Locales        map[string]models.LocalizedText
	Category       models.WorkflowCategory
	Steps          []*models.WorkflowStep
	Triggers       []*models.WorkflowTrigger
	Variables      []*models.WorkflowVariable
	OrganizationID string
	CreatedBy      string

	// TemplateID records the template a definition was instantiated from.
	TemplateID string
}

// Create stores a new inactive definition at version 1. Every step and trigger gets a fresh id.
func (d *Definitions) Create(ctx context.Context, req CreateDefinitionRequest) (*models.WorkflowDefinition, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrNameRequired
	}

	if strings.TrimSpace(req.OrganizationID) == "" {
		return nil, ErrOrganizationRequired
	}

	err := validateStepTypes("Create", req.Steps)
	if err != nil {
		return nil, err
	}

	err = validateEntries("Create", req.Steps, req.Triggers, req.Variables)
	if err != nil {
		return nil, err
	}

	now := d.now()

	definition := &models.WorkflowDefinition{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		Locales:        req.Locales,
		Version:        1,
		Category:       req.Category,
		Steps:          freshSteps(req.Steps),
		Triggers:       freshTriggers(req.Triggers),
		Variables:      copyDeclarations(req.Variables),
		IsActive:       false,
		OrganizationID: req.OrganizationID,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if definition.Category == "" {
		definition.Category = models.CategoryCustom
	}

	err = d.persistence.DefinitionRepository().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition: %w", err)
	}

	d.logger.InfoContext(ctx, "definition created", "definition_id", definition.ID, "organization_id", definition.OrganizationID)

	d.events.emit(ctx, definition.ID, events.DefinitionCreated{
		BaseEvent:     events.NewBaseEvent(events.DefinitionCreatedEvent, definition.OrganizationID, req.CreatedBy),
		DefinitionRef: definitionRef(definition),
		TemplateID:    req.TemplateID,
	})

	return definition, nil
}

// FetchByID retrieves a definition by its ID.
func (d *Definitions) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return definition, nil
}

// ListDefinitionsRequest contains options for listing definitions.
type ListDefinitionsRequest struct {
	// Pagination
	Limit  int `validate:"min=0,max=100"`
	Offset int `validate:"min=0"`

	// Filtering
	OrganizationID string
	Category       models.WorkflowCategory
	IsActive       *bool
}

// ListDefinitionsResponse contains the result of listing definitions.
type ListDefinitionsResponse struct {
	Definitions []*models.WorkflowDefinition `json:"definitions"`
	TotalCount  int64                        `json:"total_count"`
	HasNextPage bool                         `json:"has_next_page"`
}

// List retrieves definitions with filtering and pagination, newest first.
func (d *Definitions) List(ctx context.Context, req ListDefinitionsRequest) (*ListDefinitionsResponse, error) {
	limit, offset := normalizePage(req.Limit, req.Offset)

	definitions, err := d.persistence.DefinitionRepository().List(ctx, persistence.DefinitionFilter{
		OrganizationID: req.OrganizationID,
		Category:       req.Category,
		IsActive:       req.IsActive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	page, hasNext := paginate(definitions, limit, offset)

	return &ListDefinitionsResponse{
		Definitions: page,
		TotalCount:  int64(len(definitions)),
		HasNextPage: hasNext,
	}, nil
}

// UpdateDefinitionRequest is a partial update. Nil fields are left untouched.
type UpdateDefinitionRequest struct {
	Name        *string
	Description *string
	Locales     map[string]models.LocalizedText
	Category    *models.WorkflowCategory
	Steps       []*models.WorkflowStep
	Triggers    []*models.WorkflowTrigger
	Variables   []*models.WorkflowVariable

	// ExpectedVersion, when set, must equal the stored version.
	ExpectedVersion *int
}

// Update merges req into the definition and increments its version. The active flag is kept.
func (d *Definitions) Update(ctx context.Context, id string, req UpdateDefinitionRequest) (*models.WorkflowDefinition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	definition, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = validateEntries("Update", req.Steps, req.Triggers, req.Variables)
	if err != nil {
		return nil, err
	}

	if req.ExpectedVersion != nil && *req.ExpectedVersion != definition.Version {
		return nil, NewConflictError(
			"Update",
			"VERSION_MISMATCH",
			fmt.Sprintf("definition %s is at version %d, expected %d", id, definition.Version, *req.ExpectedVersion),
			ErrVersionMismatch,
		)
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, ErrNameRequired
		}

		definition.Name = *req.Name
	}

	if req.Description != nil {
		definition.Description = *req.Description
	}

	if req.Locales != nil {
		definition.Locales = req.Locales
	}

	if req.Category != nil {
		definition.Category = *req.Category
	}

	if req.Steps != nil {
		err = validateStepTypes("Update", req.Steps)
		if err != nil {
			return nil, err
		}

		definition.Steps = keepStepIDs(req.Steps)
	}

	if req.Triggers != nil {
		definition.Triggers = keepTriggerIDs(req.Triggers)
	}

	if req.Variables != nil {
		definition.Variables = copyDeclarations(req.Variables)
	}

	definition.Version++
	definition.UpdatedAt = d.now()

	err = d.persistence.DefinitionRepository().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}

	d.events.emit(ctx, definition.ID, events.DefinitionUpdated{
		BaseEvent:     events.NewBaseEvent(events.DefinitionUpdatedEvent, definition.OrganizationID, ""),
		DefinitionRef: definitionRef(definition),
	})

	return definition, nil
}

// ValidateForActivation reports why a definition cannot be activated, or nil.
func ValidateForActivation(definition *models.WorkflowDefinition) error {
	if len(definition.Steps) < 2 {
		return ErrTooFewSteps
	}

	if definition.CountSteps(models.StepTypeStart) != 1 {
		return ErrStartStepCount
	}

	if definition.CountSteps(models.StepTypeEnd) < 1 {
		return ErrEndStepRequired
	}

	return nil
}

// Activate marks a structurally valid definition active so instances can be started.
func (d *Definitions) Activate(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	definition, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = ValidateForActivation(definition)
	if err != nil {
		return nil, NewValidationError("Activate", "INVALID_DEFINITION", err.Error(), err)
	}

	definition.IsActive = true
	definition.UpdatedAt = d.now()

	err = d.persistence.DefinitionRepository().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to activate definition: %w", err)
	}

	d.logger.InfoContext(ctx, "definition activated", "definition_id", id)

	d.events.emit(ctx, definition.ID, events.DefinitionActivated{
		BaseEvent:     events.NewBaseEvent(events.DefinitionActivatedEvent, definition.OrganizationID, ""),
		DefinitionRef: definitionRef(definition),
	})

	return definition, nil
}

// Deactivate blocks new instances. Running instances are unaffected.
func (d *Definitions) Deactivate(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	definition, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	definition.IsActive = false
	definition.UpdatedAt = d.now()

	err = d.persistence.DefinitionRepository().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate definition: %w", err)
	}

	d.events.emit(ctx, definition.ID, events.DefinitionDeactivated{
		BaseEvent:     events.NewBaseEvent(events.DefinitionDeactivatedEvent, definition.OrganizationID, ""),
		DefinitionRef: definitionRef(definition),
	})

	return definition, nil
}

// Delete removes a definition unless one of its instances can still advance.
func (d *Definitions) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	definition, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}

	open, err := d.persistence.InstanceRepository().List(ctx, persistence.InstanceFilter{
		DefinitionID: id,
		Statuses:     models.NonTerminalInstanceStatuses(),
	})
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	if len(open) > 0 {
		return NewConflictError(
			"Delete",
			"DEFINITION_IN_USE",
			fmt.Sprintf("cannot delete workflow with running instances: %d open", len(open)),
			ErrDefinitionInUse,
		)
	}

	err = d.persistence.DefinitionRepository().Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	d.events.emit(ctx, id, events.DefinitionDeleted{
		BaseEvent:     events.NewBaseEvent(events.DefinitionDeletedEvent, definition.OrganizationID, ""),
		DefinitionRef: definitionRef(definition),
	})

	return nil
}

// Clone deep-copies a definition under a new name with fresh ids, version 1 and inactive.
func (d *Definitions) Clone(
	ctx context.Context,
	id string,
	newName string,
	locales map[string]models.LocalizedText,
) (*models.WorkflowDefinition, error) {
	if strings.TrimSpace(newName) == "" {
		return nil, ErrNameRequired
	}

	source, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := d.now()

	cloned := source.Clone()
	cloned.ID = uuid.NewString()
	cloned.Name = newName
	cloned.Version = 1
	cloned.IsActive = false
	cloned.Steps = freshSteps(cloned.Steps)
	cloned.Triggers = freshTriggers(cloned.Triggers)
	cloned.CreatedAt = now
	cloned.UpdatedAt = now

	if locales != nil {
		cloned.Locales = locales
	}

	err = d.persistence.DefinitionRepository().Save(ctx, cloned)
	if err != nil {
		return nil, fmt.Errorf("failed to clone definition: %w", err)
	}

	d.events.emit(ctx, cloned.ID, events.DefinitionCloned{
		BaseEvent:          events.NewBaseEvent(events.DefinitionClonedEvent, cloned.OrganizationID, ""),
		DefinitionRef:      definitionRef(cloned),
		SourceDefinitionID: source.ID,
	})

	return cloned, nil
}

// Search matches query case-insensitively against name and description in every locale.
func (d *Definitions) Search(ctx context.Context, organizationID, query string) ([]*models.WorkflowDefinition, error) {
	definitions, err := d.persistence.DefinitionRepository().List(ctx, persistence.DefinitionFilter{
		OrganizationID: organizationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search definitions: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	matches := make([]*models.WorkflowDefinition, 0)

	for _, definition := range definitions {
		if definitionMatches(definition, needle) {
			matches = append(matches, definition)
		}
	}

	return matches, nil
}

func definitionMatches(definition *models.WorkflowDefinition, needle string) bool {
	texts := []string{definition.Name, definition.Description}
	for _, text := range definition.Locales {
		texts = append(texts, text.Name, text.Description)
	}

	for _, text := range texts {
		if strings.Contains(strings.ToLower(text), needle) {
			return true
		}
	}

	return false
}

// validateEntries rejects null entries in the step, condition, trigger and variable lists.
func validateEntries(op string, steps []*models.WorkflowStep, triggers []*models.WorkflowTrigger, variables []*models.WorkflowVariable) error {
	for _, step := range steps {
		if step == nil {
			continue
		}

		for _, condition := range step.Conditions {
			if condition == nil {
				return NewValidationError(op, "INVALID_CONDITION", fmt.Sprintf("step '%s' has a null condition", step.Name), ErrInvalidRequest)
			}
		}
	}

	for _, trigger := range triggers {
		if trigger == nil {
			return NewValidationError(op, "INVALID_TRIGGER", "triggers must not contain null entries", ErrInvalidRequest)
		}
	}

	for _, variable := range variables {
		if variable == nil {
			return NewValidationError(op, "INVALID_VARIABLE", "variables must not contain null entries", ErrInvalidRequest)
		}
	}

	return nil
}

func validateStepTypes(op string, steps []*models.WorkflowStep) error {
	for _, step := range steps {
		if step == nil || !step.Type.IsValid() {
			stepType := ""
			if step != nil {
				stepType = string(step.Type)
			}

			return NewValidationError(op, "INVALID_STEP_TYPE", fmt.Sprintf("invalid step type '%s'", stepType), ErrInvalidStepType)
		}
	}

	return nil
}

func freshSteps(steps []*models.WorkflowStep) []*models.WorkflowStep {
	fresh := make([]*models.WorkflowStep, 0, len(steps))

	for _, step := range steps {
		cloned := step.Clone()
		cloned.ID = uuid.NewString()
		fresh = append(fresh, cloned)
	}

	return fresh
}

// keepStepIDs copies steps, assigning ids only to steps that have none.
func keepStepIDs(steps []*models.WorkflowStep) []*models.WorkflowStep {
	kept := make([]*models.WorkflowStep, 0, len(steps))

	for _, step := range steps {
		cloned := step.Clone()
		if cloned.ID == "" {
			cloned.ID = uuid.NewString()
		}

		kept = append(kept, cloned)
	}

	return kept
}

func freshTriggers(triggers []*models.WorkflowTrigger) []*models.WorkflowTrigger {
	fresh := make([]*models.WorkflowTrigger, 0, len(triggers))

	for _, trigger := range triggers {
		cloned := trigger.Clone()
		cloned.ID = uuid.NewString()
		fresh = append(fresh, cloned)
	}

	return fresh
}

func keepTriggerIDs(triggers []*models.WorkflowTrigger) []*models.WorkflowTrigger {
	kept := make([]*models.WorkflowTrigger, 0, len(triggers))

	for _, trigger := range triggers {
		cloned := trigger.Clone()
		if cloned.ID == "" {
			cloned.ID = uuid.NewString()
		}

		kept = append(kept, cloned)
	}

	return kept
}

func copyDeclarations(variables []*models.WorkflowVariable) []*models.WorkflowVariable {
	copied := make([]*models.WorkflowVariable, 0, len(variables))
	for _, variable := range variables {
		copied = append(copied, variable.Clone())
	}

	return copied
}

func definitionRef(definition *models.WorkflowDefinition) events.DefinitionRef {
	return events.DefinitionRef{
		DefinitionID:   definition.ID,
		DefinitionName: definition.Name,
		Version:        definition.Version,
		Category:       string(definition.Category),
	}
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	if limit > maxPageSize {
		limit = maxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

func paginate[T any](items []T, limit, offset int) ([]T, bool) {
	if offset >= len(items) {
		return []T{}, false
	}

	end := min(offset+limit, len(items))

	return items[offset:end], end < len(items)
}
