package services

import (
	"errors"
	"testing"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitions_Create(t *testing.T) {
	env := newTestEnv(t)

	input := testutil.CreateTestDefinition().Steps

	definition, err := env.definitions.Create(t.Context(), CreateDefinitionRequest{
		Name:           "Invoice Flow",
		Steps:          input,
		OrganizationID: testOrganization,
		CreatedBy:      "alice",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, definition.ID)
	assert.Equal(t, 1, definition.Version)
	assert.False(t, definition.IsActive)
	assert.Equal(t, models.CategoryCustom, definition.Category)
	assert.False(t, definition.CreatedAt.IsZero())
	require.Len(t, definition.Steps, 3)

	for i, step := range definition.Steps {
		assert.NotEqual(t, input[i].ID, step.ID, "steps get fresh ids")
		assert.Equal(t, input[i].Type, step.Type)
	}

	stored, err := env.definitions.FetchByID(t.Context(), definition.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice Flow", stored.Name)
}

func TestDefinitions_CreateValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		req      CreateDefinitionRequest
		expected error
	}{
		{
			name:     "missing name",
			req:      CreateDefinitionRequest{Name: "  ", OrganizationID: testOrganization},
			expected: ErrNameRequired,
		},
		{
			name:     "missing organization",
			req:      CreateDefinitionRequest{Name: "Flow"},
			expected: ErrOrganizationRequired,
		},
		{
			name: "unknown step type",
			req: CreateDefinitionRequest{
				Name:           "Flow",
				OrganizationID: testOrganization,
				Steps:          []*models.WorkflowStep{testutil.CreateTestStep(1, "TELEPORT")},
			},
			expected: ErrInvalidStepType,
		},
		{
			name: "null step",
			req: CreateDefinitionRequest{
				Name:           "Flow",
				OrganizationID: testOrganization,
				Steps:          []*models.WorkflowStep{nil},
			},
			expected: ErrInvalidStepType,
		},
		{
			name: "null condition",
			req: CreateDefinitionRequest{
				Name:           "Flow",
				OrganizationID: testOrganization,
				Steps: []*models.WorkflowStep{
					{Name: "Start", Type: models.StepTypeStart, Order: 1, Conditions: []*models.WorkflowCondition{nil}},
				},
			},
			expected: ErrInvalidRequest,
		},
		{
			name: "null trigger",
			req: CreateDefinitionRequest{
				Name:           "Flow",
				OrganizationID: testOrganization,
				Triggers:       []*models.WorkflowTrigger{nil},
			},
			expected: ErrInvalidRequest,
		},
		{
			name: "null variable",
			req: CreateDefinitionRequest{
				Name:           "Flow",
				OrganizationID: testOrganization,
				Variables:      []*models.WorkflowVariable{nil},
			},
			expected: ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.definitions.Create(t.Context(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expected)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestDefinitions_UpdateRejectsNullEntries(t *testing.T) {
	env := newTestEnv(t)
	definition := env.createDefinition(t, "Flow", testutil.CreateTestDefinition().Steps...)

	_, err := env.definitions.Update(t.Context(), definition.ID, UpdateDefinitionRequest{
		Triggers: []*models.WorkflowTrigger{nil},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.definitions.Update(t.Context(), definition.ID, UpdateDefinitionRequest{
		Steps: []*models.WorkflowStep{
			{Name: "Start", Type: models.StepTypeStart, Order: 1, Conditions: []*models.WorkflowCondition{nil}},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	stored, err := env.definitions.FetchByID(t.Context(), definition.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestDefinitions_Activate(t *testing.T) {
	tests := []struct {
		name     string
		steps    []*models.WorkflowStep
		expected error
	}{
		{
			name:     "single step",
			steps:    []*models.WorkflowStep{testutil.CreateTestStep(1, models.StepTypeStart)},
			expected: ErrTooFewSteps,
		},
		{
			name: "two start steps",
			steps: []*models.WorkflowStep{
				testutil.CreateTestStep(1, models.StepTypeStart),
				testutil.CreateTestStep(2, models.StepTypeStart),
				testutil.CreateTestStep(3, models.StepTypeEnd),
			},
			expected: ErrStartStepCount,
		},
		{
			name: "no start step",
			steps: []*models.WorkflowStep{
				testutil.CreateTestStep(1, models.StepTypeTask),
				testutil.CreateTestStep(2, models.StepTypeEnd),
			},
			expected: ErrStartStepCount,
		},
		{
			name: "no end step",
			steps: []*models.WorkflowStep{
				testutil.CreateTestStep(1, models.StepTypeStart),
				testutil.CreateTestStep(2, models.StepTypeTask),
			},
			expected: ErrEndStepRequired,
		},
		{
			name: "valid",
			steps: []*models.WorkflowStep{
				testutil.CreateTestStep(1, models.StepTypeStart),
				testutil.CreateTestStep(2, models.StepTypeEnd),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			definition := env.createDefinition(t, tt.name, tt.steps...)

			activated, err := env.definitions.Activate(t.Context(), definition.ID)

			if tt.expected != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expected)
				assert.True(t, IsValidationError(err))

				stored, err := env.definitions.FetchByID(t.Context(), definition.ID)
				require.NoError(t, err)
				assert.False(t, stored.IsActive)

				return
			}

			require.NoError(t, err)
			assert.True(t, activated.IsActive)
		})
	}
}

func TestDefinitions_Deactivate(t *testing.T) {
	env := newTestEnv(t)
	definition := env.activeDefinition(t, testutil.CreateTestDefinition().Steps...)

	deactivated, err := env.definitions.Deactivate(t.Context(), definition.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	_, err = env.engine.Start(t.Context(), StartRequest{DefinitionID: definition.ID})
	assert.ErrorIs(t, err, ErrDefinitionNotActive)
}

func TestDefinitions_Update(t *testing.T) {
	env := newTestEnv(t)
	definition := env.activeDefinition(t, testutil.CreateTestDefinition().Steps...)

	name := "Renamed"
	category := models.CategoryInvoiceProcessing

	updated, err := env.definitions.Update(t.Context(), definition.ID, UpdateDefinitionRequest{
		Name:            &name,
		Category:        &category,
		ExpectedVersion: &definition.Version,
	})
	require.NoError(t, err)

	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, models.CategoryInvoiceProcessing, updated.Category)
	assert.Equal(t, 2, updated.Version)
	assert.True(t, updated.IsActive)
	assert.Equal(t, definition.Description, updated.Description)

	t.Run("stale version", func(t *testing.T) {
		stale := 1

		_, err := env.definitions.Update(t.Context(), definition.ID, UpdateDefinitionRequest{
			Name:            &name,
			ExpectedVersion: &stale,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrVersionMismatch)
		assert.True(t, IsConflictError(err))
	})

	t.Run("blank name", func(t *testing.T) {
		blank := ""

		_, err := env.definitions.Update(t.Context(), definition.ID, UpdateDefinitionRequest{Name: &blank})
		assert.ErrorIs(t, err, ErrNameRequired)
	})

	t.Run("unknown definition", func(t *testing.T) {
		_, err := env.definitions.Update(t.Context(), "missing", UpdateDefinitionRequest{Name: &name})
		assert.True(t, IsNotFound(err))
	})
}

func TestDefinitions_CloneRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	source := env.activeDefinition(t, testutil.CreateTestDefinition().Steps...)

	cloned, err := env.definitions.Clone(t.Context(), source.ID, "Copy", map[string]models.LocalizedText{
		"ro": {Name: "Copie"},
	})
	require.NoError(t, err)

	assert.NotEqual(t, source.ID, cloned.ID)
	assert.Equal(t, "Copy", cloned.Name)
	assert.Equal(t, 1, cloned.Version)
	assert.False(t, cloned.IsActive)
	assert.Equal(t, "Copie", cloned.Locales["ro"].Name)
	require.Len(t, cloned.Steps, len(source.Steps))

	for i := range source.Steps {
		assert.NotEqual(t, source.Steps[i].ID, cloned.Steps[i].ID)
		assert.Equal(t, source.Steps[i].Name, cloned.Steps[i].Name)
		assert.Equal(t, source.Steps[i].Type, cloned.Steps[i].Type)
		assert.Equal(t, source.Steps[i].Order, cloned.Steps[i].Order)
	}

	// The clone is independent of its source.
	_, err = env.definitions.Activate(t.Context(), cloned.ID)
	require.NoError(t, err)

	err = env.definitions.Delete(t.Context(), source.ID)
	require.NoError(t, err)

	_, err = env.definitions.FetchByID(t.Context(), cloned.ID)
	require.NoError(t, err)

	_, err = env.definitions.Clone(t.Context(), cloned.ID, "", nil)
	assert.ErrorIs(t, err, ErrNameRequired)
}

func TestDefinitions_Delete(t *testing.T) {
	env := newTestEnv(t)
	definition := env.activeDefinition(t, approvalGateSteps("MANAGER")...)

	instance := env.start(t, definition.ID, nil)
	require.Equal(t, models.InstanceStatusWaitingApproval, instance.Status)

	err := env.definitions.Delete(t.Context(), definition.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDefinitionInUse)
	assert.True(t, IsConflictError(err))

	_, err = env.engine.Cancel(t.Context(), instance.ID, "no longer needed")
	require.NoError(t, err)

	err = env.definitions.Delete(t.Context(), definition.ID)
	require.NoError(t, err)

	_, err = env.definitions.FetchByID(t.Context(), definition.ID)
	assert.True(t, IsNotFound(err))

	err = env.definitions.Delete(t.Context(), definition.ID)
	assert.True(t, IsNotFound(err))
}

func TestDefinitions_Search(t *testing.T) {
	env := newTestEnv(t)

	invoice, err := env.definitions.Create(t.Context(), CreateDefinitionRequest{
		Name:           "Invoice Approval",
		Description:    "Approves supplier invoices",
		Locales:        map[string]models.LocalizedText{"ro": {Name: "Aprobare Factură"}},
		OrganizationID: testOrganization,
	})
	require.NoError(t, err)

	_, err = env.definitions.Create(t.Context(), CreateDefinitionRequest{
		Name:           "Onboarding",
		Description:    "New hires",
		OrganizationID: testOrganization,
	})
	require.NoError(t, err)

	_, err = env.definitions.Create(t.Context(), CreateDefinitionRequest{
		Name:           "Invoice Approval",
		OrganizationID: "org-other",
	})
	require.NoError(t, err)

	tests := []struct {
		query    string
		expected int
	}{
		{"invoice", 1},
		{"SUPPLIER", 1},
		{"factură", 1},
		{"hires", 1},
		{"payroll", 0},
		{"", 2},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			found, err := env.definitions.Search(t.Context(), testOrganization, tt.query)
			require.NoError(t, err)
			assert.Len(t, found, tt.expected)
		})
	}

	found, err := env.definitions.Search(t.Context(), testOrganization, "aprobare")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, invoice.ID, found[0].ID)
}

func TestDefinitions_List(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"first", "second", "third"} {
		env.createDefinition(t, name, testutil.CreateTestDefinition().Steps...)
	}

	active := env.activeDefinition(t, testutil.CreateTestDefinition().Steps...)

	page, err := env.definitions.List(t.Context(), ListDefinitionsRequest{Limit: 3, OrganizationID: testOrganization})
	require.NoError(t, err)
	assert.Len(t, page.Definitions, 3)
	assert.Equal(t, int64(4), page.TotalCount)
	assert.True(t, page.HasNextPage)

	page, err = env.definitions.List(t.Context(), ListDefinitionsRequest{Limit: 3, Offset: 3, OrganizationID: testOrganization})
	require.NoError(t, err)
	assert.Len(t, page.Definitions, 1)
	assert.False(t, page.HasNextPage)

	isActive := true

	page, err = env.definitions.List(t.Context(), ListDefinitionsRequest{OrganizationID: testOrganization, IsActive: &isActive})
	require.NoError(t, err)
	require.Len(t, page.Definitions, 1)
	assert.Equal(t, active.ID, page.Definitions[0].ID)

	page, err = env.definitions.List(t.Context(), ListDefinitionsRequest{OrganizationID: "org-empty"})
	require.NoError(t, err)
	assert.Empty(t, page.Definitions)
	assert.False(t, page.HasNextPage)
}

func TestIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.definitions.FetchByID(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, ErrDefinitionNotFound))
	assert.False(t, IsConflictError(err))
	assert.False(t, IsValidationError(err))
}
