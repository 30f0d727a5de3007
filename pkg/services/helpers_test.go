package services

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence/memory"
	"github.com/dukex/procflow/pkg/steps"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/require"
)

const testOrganization = "org-test"

type testEnv struct {
	store       *memory.Persistence
	processor   *steps.Processor
	definitions *Definitions
	engine      *Engine
	templates   *Templates
	stats       *Statistics
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := discardLogger()
	store := memory.NewPersistence()
	processor := steps.NewProcessor(logger)
	definitions := NewDefinitions(logger, store, nil)

	templates, err := NewTemplates(logger, store, definitions)
	require.NoError(t, err)

	return &testEnv{
		store:       store,
		processor:   processor,
		definitions: definitions,
		engine:      NewEngine(logger, store, processor),
		templates:   templates,
		stats:       NewStatistics(store),
	}
}

// createDefinition stores an inactive definition with the given steps.
func (env *testEnv) createDefinition(t *testing.T, name string, workflowSteps ...*models.WorkflowStep) *models.WorkflowDefinition {
	t.Helper()

	definition, err := env.definitions.Create(t.Context(), CreateDefinitionRequest{
		Name:           name,
		Description:    name + " description",
		Steps:          workflowSteps,
		OrganizationID: testOrganization,
		CreatedBy:      "tester",
	})
	require.NoError(t, err)

	return definition
}

// activeDefinition stores and activates a definition with the given steps.
func (env *testEnv) activeDefinition(t *testing.T, workflowSteps ...*models.WorkflowStep) *models.WorkflowDefinition {
	t.Helper()

	definition := env.createDefinition(t, "Test Workflow", workflowSteps...)

	activated, err := env.definitions.Activate(t.Context(), definition.ID)
	require.NoError(t, err)

	return activated
}

func (env *testEnv) start(t *testing.T, definitionID string, variables map[string]any) *models.WorkflowInstance {
	t.Helper()

	instance, err := env.engine.Start(t.Context(), StartRequest{
		DefinitionID: definitionID,
		StartedBy:    "alice",
		Variables:    variables,
	})
	require.NoError(t, err)

	return instance
}

func (env *testEnv) pendingFor(t *testing.T, instanceID string) *models.ApprovalRequest {
	t.Helper()

	history, err := env.engine.ApprovalHistory(t.Context(), instanceID)
	require.NoError(t, err)

	for _, request := range history {
		if request.IsPending() {
			return request
		}
	}

	require.FailNow(t, "no pending approval request", "instance %s", instanceID)

	return nil
}

func approvalGateSteps(role string) []*models.WorkflowStep {
	return []*models.WorkflowStep{
		testutil.CreateTestStep(1, models.StepTypeStart),
		testutil.CreateTestStep(2, models.StepTypeApproval, testutil.WithStepConfig(map[string]any{"role": role})),
		testutil.CreateTestStep(3, models.StepTypeEnd),
	}
}

func humanTaskSteps() []*models.WorkflowStep {
	return []*models.WorkflowStep{
		testutil.CreateTestStep(1, models.StepTypeStart),
		testutil.CreateTestStep(2, models.StepTypeHumanTask, testutil.WithStepConfig(map[string]any{"taskType": "REVIEW"})),
		testutil.CreateTestStep(3, models.StepTypeNotification, testutil.WithStepConfig(map[string]any{"template": "reviewed"})),
		testutil.CreateTestStep(4, models.StepTypeEnd),
	}
}
