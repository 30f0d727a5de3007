package services

import (
	"testing"
	"testing/fstest"

	"github.com/dukex/procflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplates_BuiltIns(t *testing.T) {
	env := newTestEnv(t)

	templates, err := env.templates.List(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, templates, 4)

	ids := make([]string, 0, len(templates))
	for _, template := range templates {
		ids = append(ids, template.ID)
		assert.True(t, template.IsBuiltIn)
		assert.NotEmpty(t, template.Locales["ro"].Name)
	}

	assert.Equal(t, []string{
		"tpl-employee-onboarding",
		"tpl-invoice-approval",
		"tpl-expense-approval",
		"tpl-purchase-order",
	}, ids)

	filtered, err := env.templates.List(t.Context(), models.CategoryExpenseApproval)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "tpl-expense-approval", filtered[0].ID)
}

func TestTemplates_Get(t *testing.T) {
	env := newTestEnv(t)

	invoice, err := env.templates.Get(t.Context(), "tpl-invoice-approval")
	require.NoError(t, err)

	assert.Equal(t, "Invoice Approval Workflow", invoice.Name)
	assert.Equal(t, "Flux de Aprobare Factură", invoice.Locales["ro"].Name)
	assert.Equal(t, models.CategoryInvoiceProcessing, invoice.Category)
	assert.InDelta(t, 4.8, invoice.Rating, 0.001)
	require.Len(t, invoice.Blueprint.Steps, 7)

	director := invoice.Blueprint.Steps[4]
	assert.Equal(t, "Director Approval", director.Name)
	assert.Equal(t, "Aprobare Director", director.Locales["ro"])
	assert.Equal(t, models.StepTypeApproval, director.Type)
	require.Len(t, director.Conditions, 1)
	assert.Equal(t, models.OperatorGreaterThan, director.Conditions[0].Operator)

	// Callers get copies.
	invoice.Name = "changed"

	again, err := env.templates.Get(t.Context(), "tpl-invoice-approval")
	require.NoError(t, err)
	assert.Equal(t, "Invoice Approval Workflow", again.Name)

	_, err = env.templates.Get(t.Context(), "tpl-missing")
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestTemplates_Instantiate(t *testing.T) {
	env := newTestEnv(t)

	definition, err := env.templates.Instantiate(t.Context(), "tpl-invoice-approval", InstantiateRequest{
		OrganizationID: "org-acme",
		CreatedBy:      "alice",
		Name:           "ACME Invoices",
	})
	require.NoError(t, err)

	assert.Equal(t, "ACME Invoices", definition.Name)
	assert.Equal(t, "Standard invoice approval workflow with multi-level approval", definition.Description)
	assert.Equal(t, "org-acme", definition.OrganizationID)
	assert.Equal(t, models.CategoryInvoiceProcessing, definition.Category)
	assert.False(t, definition.IsActive)
	assert.Equal(t, 1, definition.Version)
	require.Len(t, definition.Steps, 7)

	for _, step := range definition.Steps {
		assert.NotEmpty(t, step.ID)
	}

	template, err := env.templates.Get(t.Context(), "tpl-invoice-approval")
	require.NoError(t, err)
	assert.Equal(t, 1, template.UsageCount)

	_, err = env.templates.Instantiate(t.Context(), "tpl-missing", InstantiateRequest{OrganizationID: "org-acme"})
	assert.True(t, IsNotFound(err))

	_, err = env.templates.Instantiate(t.Context(), "tpl-invoice-approval", InstantiateRequest{})
	assert.ErrorIs(t, err, ErrOrganizationRequired)
}

func TestTemplates_InvoiceApprovalEndToEnd(t *testing.T) {
	tests := []struct {
		name             string
		amount           int
		directorExecuted bool
	}{
		{"below director threshold", 5000, false},
		{"above director threshold", 15000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			definition, err := env.templates.Instantiate(t.Context(), "tpl-invoice-approval", InstantiateRequest{
				OrganizationID: testOrganization,
				CreatedBy:      "alice",
			})
			require.NoError(t, err)

			_, err = env.definitions.Activate(t.Context(), definition.ID)
			require.NoError(t, err)

			instance := env.start(t, definition.ID, map[string]any{"amount": tt.amount})
			require.Equal(t, models.InstanceStatusRunning, instance.Status, "parked on the initial review")
			assert.Equal(t, "RON", instance.Variables["currency"])

			instance, err = env.engine.CompleteTask(t.Context(), instance.ID, map[string]any{"reviewNotes": "ok"}, "reviewer")
			require.NoError(t, err)
			require.Equal(t, models.InstanceStatusWaitingApproval, instance.Status)
			assert.Equal(t, "MANAGER", env.pendingFor(t, instance.ID).Assignee)

			outcome, err := env.engine.Approve(t.Context(), env.pendingFor(t, instance.ID).ID, "manager", "")
			require.NoError(t, err)

			if tt.directorExecuted {
				require.Equal(t, models.InstanceStatusWaitingApproval, outcome.Instance.Status)
				assert.Equal(t, "DIRECTOR", env.pendingFor(t, instance.ID).Assignee)

				outcome, err = env.engine.Approve(t.Context(), env.pendingFor(t, instance.ID).ID, "director", "")
				require.NoError(t, err)
			}

			assert.Equal(t, models.InstanceStatusCompleted, outcome.Instance.Status)

			var directorStatus models.StepStatus
			for _, execution := range outcome.Instance.StepHistory {
				if execution.StepName == "Director Approval" {
					directorStatus = execution.Status
				}
			}

			if tt.directorExecuted {
				assert.Equal(t, models.StepStatusCompleted, directorStatus)
			} else {
				assert.Equal(t, models.StepStatusSkipped, directorStatus)
			}
		})
	}
}

func TestTemplates_Custom(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.templates.Create(t.Context(), CreateTemplateRequest{Name: "Empty"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	custom, err := env.templates.Create(t.Context(), CreateTemplateRequest{
		Name:     "Contract Review",
		Category: models.CategoryContractManagement,
		Rating:   5,
		Blueprint: models.TemplateBlueprint{
			Steps: []*models.WorkflowStep{
				{Name: "Start", Type: models.StepTypeStart, Order: 1},
				{Name: "Legal", Type: models.StepTypeApproval, Order: 2, Config: map[string]any{"role": "LEGAL"}},
				{Name: "End", Type: models.StepTypeEnd, Order: 3},
			},
		},
	})
	require.NoError(t, err)
	assert.False(t, custom.IsBuiltIn)
	assert.Equal(t, 1, custom.Version)

	all, err := env.templates.List(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, custom.ID, all[0].ID, "highest rating first")

	_, err = env.templates.Instantiate(t.Context(), custom.ID, InstantiateRequest{OrganizationID: testOrganization})
	require.NoError(t, err)

	stored, err := env.templates.Get(t.Context(), custom.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)
}

func TestLoadTemplates(t *testing.T) {
	fsys := fstest.MapFS{
		"contracts.yaml": &fstest.MapFile{Data: []byte(`
id: tpl-contract
name: Contract Review
category: CONTRACT_MANAGEMENT
rating: 4.1
blueprint:
  steps:
    - {name: Start, type: START, order: 1}
    - name: Legal Approval
      type: APPROVAL
      order: 2
      timeout: 72h
      config: {role: LEGAL}
    - {name: End, type: END, order: 3}
---
name: Quick Notice
blueprint:
  steps:
    - {name: Start, type: START, order: 1}
    - {name: End, type: END, order: 2}
`)},
		"notes.txt": &fstest.MapFile{Data: []byte("ignored")},
	}

	templates, err := LoadTemplates(fsys)
	require.NoError(t, err)
	require.Len(t, templates, 2)

	contract := templates[0]
	assert.Equal(t, "tpl-contract", contract.ID)
	assert.Equal(t, models.CategoryContractManagement, contract.Category)
	assert.Equal(t, 1, contract.Version)
	require.Len(t, contract.Blueprint.Steps, 3)
	assert.Equal(t, "LEGAL", contract.Blueprint.Steps[1].ConfigString("role"))
	assert.Equal(t, "72h0m0s", contract.Blueprint.Steps[1].Timeout.String())

	assert.Equal(t, models.CategoryCustom, templates[1].Category)
	assert.Empty(t, templates[1].ID)

	tests := []struct {
		name string
		data string
	}{
		{"unknown field", "name: X\nowner: me\nblueprint:\n  steps:\n    - {name: S, type: START, order: 1}\n"},
		{"unknown step type", "name: X\nblueprint:\n  steps:\n    - {name: S, type: TELEPORT, order: 1}\n"},
		{"no steps", "name: X\n"},
		{"malformed", "name: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTemplates(fstest.MapFS{"bad.yml": &fstest.MapFile{Data: []byte(tt.data)}})
			assert.Error(t, err)
		})
	}
}

func TestTemplates_Register(t *testing.T) {
	env := newTestEnv(t)

	loaded := []*models.WorkflowTemplate{{
		Name: "Quick Notice",
		Blueprint: models.TemplateBlueprint{Steps: []*models.WorkflowStep{
			{Name: "Start", Type: models.StepTypeStart, Order: 1},
			{Name: "End", Type: models.StepTypeEnd, Order: 2},
		}},
	}}

	err := env.templates.Register(t.Context(), loaded)
	require.NoError(t, err)
	require.NotEmpty(t, loaded[0].ID)

	stored, err := env.templates.Get(t.Context(), loaded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Quick Notice", stored.Name)

	err = env.templates.Register(t.Context(), []*models.WorkflowTemplate{{
		ID:   "tpl-invoice-approval",
		Name: "Shadow",
		Blueprint: models.TemplateBlueprint{Steps: []*models.WorkflowStep{
			{Name: "Start", Type: models.StepTypeStart, Order: 1},
		}},
	}})
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}
