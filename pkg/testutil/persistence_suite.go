package testutil

import (
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunPersistenceSuite checks the repository contract every Persistence implementation shares.
// newPersistence must return an empty store.
func RunPersistenceSuite(t *testing.T, newPersistence func(t *testing.T) persistence.Persistence) {
	t.Helper()

	t.Run("definitions", func(t *testing.T) {
		testDefinitions(t, newPersistence(t))
	})

	t.Run("instances", func(t *testing.T) {
		testInstances(t, newPersistence(t))
	})

	t.Run("approvals", func(t *testing.T) {
		testApprovals(t, newPersistence(t))
	})

	t.Run("templates", func(t *testing.T) {
		testTemplates(t, newPersistence(t))
	})

	t.Run("health", func(t *testing.T) {
		require.NoError(t, newPersistence(t).HealthCheck(t.Context()))
	})
}

func testDefinitions(t *testing.T, store persistence.Persistence) {
	t.Helper()

	ctx := t.Context()
	repo := store.DefinitionRepository()

	older := CreateTestDefinition(func(d *models.WorkflowDefinition) {
		d.Name = "Older"
		d.CreatedAt = d.CreatedAt.Add(-time.Hour)
		d.Locales = map[string]models.LocalizedText{"ro": {Name: "Mai vechi"}}
	})
	newer := CreateTestDefinition(WithActive(true), func(d *models.WorkflowDefinition) {
		d.Name = "Newer"
		d.Category = models.CategoryExpenseApproval
	})
	otherOrg := CreateTestDefinition(WithOrganization("org-other"))

	for _, definition := range []*models.WorkflowDefinition{older, newer, otherOrg} {
		require.NoError(t, repo.Save(ctx, definition))
	}

	loaded, err := repo.GetByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "Older", loaded.Name)
	assert.Equal(t, "Mai vechi", loaded.Locales["ro"].Name)
	require.Len(t, loaded.Steps, 3)
	assert.Equal(t, models.StepTypeNotification, loaded.Steps[1].Type)
	assert.Equal(t, "test_template", loaded.Steps[1].ConfigString("template"))
	assert.WithinDuration(t, older.CreatedAt, loaded.CreatedAt, time.Millisecond)

	loaded.Name = "mutated"
	again, err := repo.GetByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "Older", again.Name)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

	listed, err := repo.List(ctx, persistence.DefinitionFilter{OrganizationID: "org-test"})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, newer.ID, listed[0].ID)
	assert.Equal(t, older.ID, listed[1].ID)

	active := true
	listed, err = repo.List(ctx, persistence.DefinitionFilter{IsActive: &active, Category: models.CategoryExpenseApproval})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, newer.ID, listed[0].ID)

	newer.Version = 2
	newer.Name = "Newer v2"
	require.NoError(t, repo.Save(ctx, newer))

	loaded, err = repo.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
	assert.Equal(t, "Newer v2", loaded.Name)

	require.NoError(t, repo.Delete(ctx, older.ID))
	_, err = repo.GetByID(ctx, older.ID)
	assert.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, older.ID), persistence.ErrDefinitionNotFound)
}

func testInstances(t *testing.T, store persistence.Persistence) {
	t.Helper()

	ctx := t.Context()
	repo := store.InstanceRepository()
	definition := CreateTestDefinition()

	first := CreateTestInstance(definition, func(i *models.WorkflowInstance) {
		i.StartedAt = i.StartedAt.Add(-time.Minute)
	})
	second := CreateTestInstance(definition, func(i *models.WorkflowInstance) {
		i.Status = models.InstanceStatusWaitingApproval
		i.StartedBy = "ana"
	})

	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))

	completedAt := time.Now().UTC().Truncate(time.Microsecond)
	first.Status = models.InstanceStatusCompleted
	first.CompletedAt = &completedAt
	first.Variables["approved"] = true
	first.StepHistory = append(first.StepHistory, &models.StepExecution{
		StepID:    definition.Steps[0].ID,
		StepName:  "START",
		StepType:  models.StepTypeStart,
		Status:    models.StepStatusCompleted,
		StartedAt: completedAt,
		Input:     map[string]any{"amount": 100.0},
		Output:    map[string]any{"startedAt": "now"},
	})
	require.NoError(t, repo.Save(ctx, first))

	loaded, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, loaded.Status)
	assert.Equal(t, true, loaded.Variables["approved"])
	assert.Equal(t, 100.0, loaded.Variables["amount"])
	require.Len(t, loaded.StepHistory, 1)
	assert.Equal(t, "now", loaded.StepHistory[0].Output["startedAt"])
	require.NotNil(t, loaded.CompletedAt)
	assert.WithinDuration(t, completedAt, *loaded.CompletedAt, time.Millisecond)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrInstanceNotFound)

	listed, err := repo.List(ctx, persistence.InstanceFilter{DefinitionID: definition.ID})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID, listed[0].ID)

	listed, err = repo.List(ctx, persistence.InstanceFilter{Statuses: models.NonTerminalInstanceStatuses()})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, second.ID, listed[0].ID)

	listed, err = repo.List(ctx, persistence.InstanceFilter{StartedBy: "ana", OrganizationID: "org-test"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func testApprovals(t *testing.T, store persistence.Persistence) {
	t.Helper()

	ctx := t.Context()
	repo := store.ApprovalRepository()
	instance := CreateTestInstance(CreateTestDefinition())

	manager := CreateTestApproval(instance, "MANAGER")
	director := CreateTestApproval(instance, "DIRECTOR", func(r *models.ApprovalRequest) {
		r.RequestedAt = manager.RequestedAt.Add(time.Second)
		r.DelegatedFrom = manager.ID
	})
	unassigned := CreateTestApproval(CreateTestInstance(CreateTestDefinition()), models.UnassignedApprover, func(r *models.ApprovalRequest) {
		r.RequestedAt = manager.RequestedAt.Add(2 * time.Second)
	})

	for _, request := range []*models.ApprovalRequest{manager, director, unassigned} {
		require.NoError(t, repo.Save(ctx, request))
	}

	respondedAt := time.Now().UTC().Truncate(time.Microsecond)
	manager.Status = models.ApprovalStatusDelegated
	manager.DelegatedTo = "DIRECTOR"
	manager.DelegatedToID = director.ID
	manager.RespondedAt = &respondedAt
	require.NoError(t, repo.Save(ctx, manager))

	loaded, err := repo.GetByID(ctx, manager.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusDelegated, loaded.Status)
	assert.Equal(t, director.ID, loaded.DelegatedToID)
	assert.Equal(t, 100.0, loaded.Data["amount"])

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrApprovalNotFound)

	history, err := repo.List(ctx, persistence.ApprovalFilter{InstanceID: instance.ID})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, manager.ID, history[0].ID)
	assert.Equal(t, director.ID, history[1].ID)

	pending, err := repo.List(ctx, persistence.ApprovalFilter{
		Status:    models.ApprovalStatusPending,
		Assignees: []string{"DIRECTOR", models.UnassignedApprover},
	})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, director.ID, pending[0].ID)
	assert.Equal(t, unassigned.ID, pending[1].ID)
}

func testTemplates(t *testing.T, store persistence.Persistence) {
	t.Helper()

	ctx := t.Context()
	repo := store.TemplateRepository()

	template := &models.WorkflowTemplate{
		ID:          "custom-review",
		Name:        "Document review",
		Description: "Review then sign",
		Category:    models.CategoryDocumentReview,
		Version:     1,
		Rating:      4.2,
		Blueprint: models.TemplateBlueprint{
			Steps: CreateTestDefinition().Steps,
		},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	require.NoError(t, repo.Save(ctx, template))

	template.UsageCount = 3
	require.NoError(t, repo.Save(ctx, template))

	loaded, err := repo.GetByID(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.UsageCount)
	assert.Equal(t, 4.2, loaded.Rating)
	assert.Len(t, loaded.Blueprint.Steps, 3)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrTemplateNotFound)

	listed, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
