// Package testutil provides test data builders and shared test suites.
package testutil

import (
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestStep creates a WorkflowStep with default values that can be overridden.
func CreateTestStep(order int, stepType models.StepType, overrides ...func(*models.WorkflowStep)) *models.WorkflowStep {
	step := &models.WorkflowStep{
		ID:    uuid.NewString(),
		Name:  string(stepType),
		Type:  stepType,
		Order: order,
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithStepConfig sets the step configuration.
func WithStepConfig(config map[string]any) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Config = config
	}
}

// WithStepConditions sets the conditions gating the step.
func WithStepConditions(conditions ...*models.WorkflowCondition) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Conditions = conditions
	}
}

// WithStepTimeout sets the step timeout.
func WithStepTimeout(timeout time.Duration) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Timeout = timeout
	}
}

// CreateTestDefinition creates a START → NOTIFICATION → END definition that can be overridden.
func CreateTestDefinition(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	now := time.Now().UTC().Truncate(time.Microsecond)

	definition := &models.WorkflowDefinition{
		ID:          uuid.NewString(),
		Name:        "Test Definition",
		Description: "Definition used in tests",
		Version:     1,
		Category:    models.CategoryCustom,
		Steps: []*models.WorkflowStep{
			CreateTestStep(1, models.StepTypeStart),
			CreateTestStep(2, models.StepTypeNotification, WithStepConfig(map[string]any{"template": "test_template"})),
			CreateTestStep(3, models.StepTypeEnd),
		},
		Triggers: []*models.WorkflowTrigger{
			{ID: uuid.NewString(), Type: models.TriggerTypeManual, IsActive: true},
		},
		Variables:      []*models.WorkflowVariable{},
		OrganizationID: "org-test",
		CreatedBy:      "tester",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, override := range overrides {
		override(definition)
	}

	return definition
}

// WithSteps replaces the definition steps.
func WithSteps(steps ...*models.WorkflowStep) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Steps = steps
	}
}

// WithOrganization sets the owning organization.
func WithOrganization(organizationID string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.OrganizationID = organizationID
	}
}

// WithActive sets the active flag.
func WithActive(active bool) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.IsActive = active
	}
}

// CreateTestInstance creates a RUNNING instance of definition.
func CreateTestInstance(definition *models.WorkflowDefinition, overrides ...func(*models.WorkflowInstance)) *models.WorkflowInstance {
	instance := &models.WorkflowInstance{
		ID:             uuid.NewString(),
		DefinitionID:   definition.ID,
		DefinitionName: definition.Name,
		Status:         models.InstanceStatusRunning,
		Variables:      map[string]any{"amount": 100.0},
		StepHistory:    []*models.StepExecution{},
		StartedBy:      "tester",
		OrganizationID: definition.OrganizationID,
		Priority:       models.PriorityNormal,
		StartedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}

	if start := definition.StartStep(); start != nil {
		instance.CurrentStepID = start.ID
		instance.CurrentStepOrder = start.Order
	}

	for _, override := range overrides {
		override(instance)
	}

	return instance
}

// CreateTestApproval creates a PENDING approval request for instance.
func CreateTestApproval(instance *models.WorkflowInstance, assignee string, overrides ...func(*models.ApprovalRequest)) *models.ApprovalRequest {
	request := &models.ApprovalRequest{
		ID:             uuid.NewString(),
		InstanceID:     instance.ID,
		StepID:         instance.CurrentStepID,
		StepName:       "Approval",
		DefinitionName: instance.DefinitionName,
		OrganizationID: instance.OrganizationID,
		RequestedBy:    instance.StartedBy,
		RequestedAt:    time.Now().UTC().Truncate(time.Microsecond),
		Assignee:       assignee,
		Status:         models.ApprovalStatusPending,
		Data:           models.CopyVariables(instance.Variables),
	}

	for _, override := range overrides {
		override(request)
	}

	return request
}
