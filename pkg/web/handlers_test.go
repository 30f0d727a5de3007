package web_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/mocks"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence/file"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/steps"
	"github.com/dukex/procflow/pkg/trigger"
	"github.com/dukex/procflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testOrganization = "org-test"

type testServices struct {
	definitions *services.Definitions
	engine      *services.Engine
}

func setupTestHandlers(t *testing.T) (*web.APIHandlers, testServices) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistence := file.NewPersistence(t.TempDir())
	definitions := services.NewDefinitions(logger, persistence, nil)
	engine := services.NewEngine(logger, persistence, steps.NewProcessor(logger))

	templates, err := services.NewTemplates(logger, persistence, definitions)
	require.NoError(t, err)

	handlers := web.NewAPIHandlers(
		definitions,
		engine,
		templates,
		services.NewStatistics(persistence),
		trigger.NewDispatcher(logger, persistence.DefinitionRepository(), engine),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	return handlers, testServices{definitions: definitions, engine: engine}
}

func setupTestApp(t *testing.T) (*fiber.App, testServices) {
	t.Helper()

	handlers, svc := setupTestHandlers(t)
	app := fiber.New()
	handlers.Register(app)

	return app, svc
}

// doRequest sends body (raw when it is a string, JSON-encoded otherwise) and returns
// the status code and response body.
func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()

	var value T
	require.NoError(t, json.Unmarshal(body, &value), string(body))

	return value
}

type problem struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func stepsBody(types ...models.StepType) []map[string]any {
	result := make([]map[string]any, 0, len(types))
	for i, stepType := range types {
		result = append(result, map[string]any{
			"name":  string(stepType),
			"type":  string(stepType),
			"order": i + 1,
		})
	}

	return result
}

func approvalGateBody(role string) []map[string]any {
	body := stepsBody(models.StepTypeStart, models.StepTypeApproval, models.StepTypeEnd)
	body[1]["config"] = map[string]any{"role": role}

	return body
}

func createActiveDefinition(t *testing.T, app *fiber.App, stepsBody []map[string]any) *models.WorkflowDefinition {
	t.Helper()

	status, body := doRequest(t, app, http.MethodPost, "/definitions", map[string]any{
		"name":            "HTTP Workflow",
		"organization_id": testOrganization,
		"steps":           stepsBody,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	definition := decode[models.WorkflowDefinition](t, body)

	status, body = doRequest(t, app, http.MethodPost, "/definitions/"+definition.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	activated := decode[models.WorkflowDefinition](t, body)

	return &activated
}

func startInstance(t *testing.T, app *fiber.App, definitionID string, variables map[string]any) *models.WorkflowInstance {
	t.Helper()

	status, body := doRequest(t, app, http.MethodPost, "/instances", web.StartInstanceRequest{
		DefinitionID: definitionID,
		StartedBy:    "alice",
		Variables:    variables,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	instance := decode[models.WorkflowInstance](t, body)

	return &instance
}

func TestAPIHandlers_CreateDefinition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedDetail string
	}{
		{
			name: "successful creation",
			requestBody: map[string]any{
				"name":            "Invoice flow",
				"description":     "Approves invoices",
				"organization_id": testOrganization,
				"steps":           stepsBody(models.StepTypeStart, models.StepTypeEnd),
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "validation error - missing name",
			requestBody:    map[string]any{"organization_id": testOrganization},
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Name",
		},
		{
			name:           "validation error - name too short",
			requestBody:    map[string]any{"name": "In", "organization_id": testOrganization},
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Name",
		},
		{
			name:           "validation error - missing organization",
			requestBody:    map[string]any{"name": "Invoice flow"},
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "OrganizationID",
		},
		{
			name: "service validation - unknown step type",
			requestBody: map[string]any{
				"name":            "Invoice flow",
				"organization_id": testOrganization,
				"steps":           []map[string]any{{"name": "Beam", "type": "TELEPORT", "order": 1}},
			},
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "invalid step type",
		},
		{
			name:           "null condition",
			requestBody:    `{"name":"Invoice flow","organization_id":"org-test","steps":[{"type":"START","order":1,"conditions":[null]}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "null condition",
		},
		{
			name:           "null step",
			requestBody:    `{"name":"Invoice flow","organization_id":"org-test","steps":[null]}`,
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "invalid step type",
		},
		{
			name:           "null trigger",
			requestBody:    `{"name":"Invoice flow","organization_id":"org-test","triggers":[null]}`,
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "triggers must not contain null entries",
		},
		{
			name:           "null variable",
			requestBody:    `{"name":"Invoice flow","organization_id":"org-test","variables":[null]}`,
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "variables must not contain null entries",
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Invalid JSON format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			status, body := doRequest(t, app, http.MethodPost, "/definitions", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedStatus == http.StatusCreated {
				definition := decode[models.WorkflowDefinition](t, body)
				assert.NotEmpty(t, definition.ID)
				assert.Equal(t, 1, definition.Version)
				assert.False(t, definition.IsActive)
				assert.Equal(t, models.CategoryCustom, definition.Category)
				require.Len(t, definition.Steps, 2)

				return
			}

			p := decode[problem](t, body)
			assert.Equal(t, "validation_error", p.Type)
			assert.Contains(t, p.Detail, tt.expectedDetail)
		})
	}
}

func TestAPIHandlers_DefinitionLifecycle(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodPost, "/definitions", map[string]any{
		"name":            "Onboarding",
		"organization_id": testOrganization,
		"locales":         map[string]any{"ro": map[string]any{"name": "Integrare angajat"}},
		"steps":           stepsBody(models.StepTypeStart),
	})
	require.Equal(t, http.StatusCreated, status)

	definition := decode[models.WorkflowDefinition](t, body)

	// A single START step cannot be activated.
	status, body = doRequest(t, app, http.MethodPost, "/definitions/"+definition.ID+"/activate", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, decode[problem](t, body).Detail, "at least 2 steps")

	status, body = doRequest(t, app, http.MethodPatch, "/definitions/"+definition.ID, map[string]any{
		"steps":            stepsBody(models.StepTypeStart, models.StepTypeTask, models.StepTypeEnd),
		"expected_version": 1,
	})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, 2, decode[models.WorkflowDefinition](t, body).Version)

	status, body = doRequest(t, app, http.MethodPatch, "/definitions/"+definition.ID, map[string]any{
		"name":             "Stale edit",
		"expected_version": 1,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", decode[problem](t, body).Type)

	status, body = doRequest(t, app, http.MethodPost, "/definitions/"+definition.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.True(t, decode[models.WorkflowDefinition](t, body).IsActive)

	status, body = doRequest(t, app, http.MethodPost, "/definitions/"+definition.ID+"/clone", web.CloneDefinitionRequest{Name: "Onboarding v2"})
	require.Equal(t, http.StatusCreated, status, string(body))

	cloned := decode[models.WorkflowDefinition](t, body)
	assert.NotEqual(t, definition.ID, cloned.ID)
	assert.False(t, cloned.IsActive)
	assert.Equal(t, 1, cloned.Version)

	status, body = doRequest(t, app, http.MethodGet, "/definitions?organization_id="+testOrganization+"&is_active=true", nil)
	require.Equal(t, http.StatusOK, status)

	list := decode[struct {
		Definitions []*models.WorkflowDefinition `json:"definitions"`
		TotalCount  int                          `json:"total_count"`
	}](t, body)
	require.Equal(t, 1, list.TotalCount)
	assert.Equal(t, definition.ID, list.Definitions[0].ID)

	status, body = doRequest(t, app, http.MethodGet, "/definitions/search?organization_id="+testOrganization+"&q=integrare", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, decode[struct {
		TotalCount int `json:"total_count"`
	}](t, body).TotalCount)

	status, _ = doRequest(t, app, http.MethodPost, "/definitions/"+definition.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = doRequest(t, app, http.MethodDelete, "/definitions/"+definition.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = doRequest(t, app, http.MethodGet, "/definitions/"+definition.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow definition not found", decode[problem](t, body).Detail)
}

func TestAPIHandlers_GetDefinitionsInvalidQuery(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	tests := []string{
		"/definitions?limit=abc",
		"/definitions?limit=500",
		"/definitions?is_active=maybe",
	}

	for _, path := range tests {
		status, _ := doRequest(t, app, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, status, path)
	}
}

func TestAPIHandlers_ApprovalFlow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	definition := createActiveDefinition(t, app, approvalGateBody("MANAGER"))

	instance := startInstance(t, app, definition.ID, map[string]any{"amount": 2500})
	require.Equal(t, models.InstanceStatusWaitingApproval, instance.Status)

	status, body := doRequest(t, app, http.MethodGet, "/approvals/pending", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doRequest(t, app, http.MethodGet, "/approvals/pending?assignee=MANAGER&organization_id="+testOrganization, nil)
	require.Equal(t, http.StatusOK, status)

	pending := decode[struct {
		Approvals  []*models.ApprovalRequest `json:"approvals"`
		TotalCount int                       `json:"total_count"`
	}](t, body)
	require.Equal(t, 1, pending.TotalCount)

	request := pending.Approvals[0]
	assert.Equal(t, instance.ID, request.InstanceID)

	status, _ = doRequest(t, app, http.MethodPost, "/approvals/"+request.ID+"/approve", web.ApproveRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doRequest(t, app, http.MethodPost, "/approvals/"+request.ID+"/approve", web.ApproveRequest{Approver: "bob", Comments: "ok"})
	require.Equal(t, http.StatusOK, status, string(body))

	outcome := decode[web.ApprovalOutcomeResponse](t, body)
	assert.Equal(t, models.ApprovalStatusApproved, outcome.Request.Status)
	assert.Equal(t, models.InstanceStatusCompleted, outcome.Instance.Status)

	status, body = doRequest(t, app, http.MethodPost, "/approvals/"+request.ID+"/approve", web.ApproveRequest{Approver: "bob"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, decode[problem](t, body).Detail, "not pending")

	status, body = doRequest(t, app, http.MethodGet, "/instances/"+instance.ID+"/approvals", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[struct {
		Approvals []*models.ApprovalRequest `json:"approvals"`
	}](t, body).Approvals, 1)

	status, _ = doRequest(t, app, http.MethodGet, "/approvals/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_ApprovalTimeoutInMilliseconds(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	gate := approvalGateBody("MANAGER")
	gate[1]["timeout"] = 86400000

	definition := createActiveDefinition(t, app, gate)
	require.Equal(t, 24*time.Hour, definition.Steps[1].Timeout)

	status, body := doRequest(t, app, http.MethodGet, "/definitions/"+definition.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"timeout":86400000`)

	started := time.Now()
	instance := startInstance(t, app, definition.ID, nil)
	require.Equal(t, models.InstanceStatusWaitingApproval, instance.Status)

	status, body = doRequest(t, app, http.MethodGet, "/instances/"+instance.ID+"/approvals", nil)
	require.Equal(t, http.StatusOK, status)

	history := decode[struct {
		Approvals []*models.ApprovalRequest `json:"approvals"`
	}](t, body).Approvals
	require.Len(t, history, 1)
	require.NotNil(t, history[0].DueDate)
	assert.WithinDuration(t, started.Add(24*time.Hour), *history[0].DueDate, time.Minute)

	gate[1]["timeout"] = "soon"
	status, body = doRequest(t, app, http.MethodPost, "/definitions", map[string]any{
		"name":            "Bad timeout",
		"organization_id": testOrganization,
		"steps":           gate,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, decode[problem](t, body).Detail, "Invalid JSON format")
}

func TestAPIHandlers_RejectAndDelegate(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)
	definition := createActiveDefinition(t, app, approvalGateBody("MANAGER"))

	rejected := startInstance(t, app, definition.ID, nil)
	history, err := svc.engine.ApprovalHistory(t.Context(), rejected.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	status, _ := doRequest(t, app, http.MethodPost, "/approvals/"+history[0].ID+"/reject", web.RejectRequest{Rejecter: "carol"})
	assert.Equal(t, http.StatusBadRequest, status, "reason is required")

	status, body := doRequest(t, app, http.MethodPost, "/approvals/"+history[0].ID+"/reject", web.RejectRequest{
		Rejecter: "carol",
		Reason:   "insufficient funds",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	outcome := decode[web.ApprovalOutcomeResponse](t, body)
	assert.Equal(t, models.InstanceStatusFailed, outcome.Instance.Status)
	assert.Contains(t, outcome.Instance.Error, "insufficient funds")

	delegated := startInstance(t, app, definition.ID, nil)
	history, err = svc.engine.ApprovalHistory(t.Context(), delegated.ID)
	require.NoError(t, err)

	status, body = doRequest(t, app, http.MethodPost, "/approvals/"+history[0].ID+"/delegate", web.DelegateRequest{
		DelegateTo:  "DIRECTOR",
		DelegatedBy: "bob",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	outcome = decode[web.ApprovalOutcomeResponse](t, body)
	assert.Equal(t, "DIRECTOR", outcome.Request.Assignee)
	assert.Equal(t, history[0].ID, outcome.Request.DelegatedFrom)

	status, _ = doRequest(t, app, http.MethodPost, "/approvals/"+history[0].ID+"/approve", web.ApproveRequest{Approver: "bob"})
	assert.Equal(t, http.StatusConflict, status)

	status, body = doRequest(t, app, http.MethodPost, "/approvals/"+outcome.Request.ID+"/approve", web.ApproveRequest{Approver: "dora"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.InstanceStatusCompleted, decode[web.ApprovalOutcomeResponse](t, body).Instance.Status)
}

func TestAPIHandlers_StartInstanceErrors(t *testing.T) {
	t.Parallel()

	app, svc := setupTestApp(t)

	draft, err := svc.definitions.Create(t.Context(), services.CreateDefinitionRequest{
		Name:           "Draft",
		OrganizationID: testOrganization,
	})
	require.NoError(t, err)

	active := createActiveDefinition(t, app, stepsBody(models.StepTypeStart, models.StepTypeEnd))

	tests := []struct {
		name           string
		request        any
		expectedStatus int
	}{
		{"missing definition id", web.StartInstanceRequest{StartedBy: "alice"}, http.StatusBadRequest},
		{"missing starter", web.StartInstanceRequest{DefinitionID: active.ID}, http.StatusBadRequest},
		{"unknown priority", web.StartInstanceRequest{DefinitionID: active.ID, StartedBy: "alice", Priority: "SOMEDAY"}, http.StatusBadRequest},
		{"inactive definition", web.StartInstanceRequest{DefinitionID: draft.ID, StartedBy: "alice"}, http.StatusBadRequest},
		{"unknown definition", web.StartInstanceRequest{DefinitionID: "missing", StartedBy: "alice"}, http.StatusBadRequest},
		{"success", web.StartInstanceRequest{DefinitionID: active.ID, StartedBy: "alice", Priority: models.PriorityHigh}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, http.MethodPost, "/instances", tt.request)
			assert.Equal(t, tt.expectedStatus, status, string(body))
		})
	}
}

func TestAPIHandlers_InstanceControls(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	humanTask := stepsBody(models.StepTypeStart, models.StepTypeHumanTask, models.StepTypeEnd)
	definition := createActiveDefinition(t, app, humanTask)

	paused := startInstance(t, app, definition.ID, nil)
	require.Equal(t, models.InstanceStatusRunning, paused.Status)

	status, body := doRequest(t, app, http.MethodPost, "/instances/"+paused.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.InstanceStatusPaused, decode[models.WorkflowInstance](t, body).Status)

	status, _ = doRequest(t, app, http.MethodPost, "/instances/"+paused.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = doRequest(t, app, http.MethodPut, "/instances/"+paused.ID+"/variables/approved", web.SetVariableRequest{Value: true})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = doRequest(t, app, http.MethodGet, "/instances/"+paused.ID+"/variables", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, decode[map[string]any](t, body)["approved"])

	status, body = doRequest(t, app, http.MethodPost, "/instances/"+paused.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.InstanceStatusCompleted, decode[models.WorkflowInstance](t, body).Status)

	status, _ = doRequest(t, app, http.MethodPost, "/instances/"+paused.ID+"/cancel", web.CancelInstanceRequest{Reason: "late"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = doRequest(t, app, http.MethodPost, "/instances/"+paused.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = doRequest(t, app, http.MethodGet, "/instances/"+paused.ID+"/timeline", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[struct {
		Timeline []*models.StepExecution `json:"timeline"`
	}](t, body).Timeline, 3)

	tasked := startInstance(t, app, definition.ID, nil)

	status, _ = doRequest(t, app, http.MethodPost, "/instances/"+tasked.ID+"/complete-task", web.CompleteTaskRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doRequest(t, app, http.MethodPost, "/instances/"+tasked.ID+"/complete-task", web.CompleteTaskRequest{
		Output:      map[string]any{"notes": "done"},
		CompletedBy: "reviewer",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	completed := decode[models.WorkflowInstance](t, body)
	assert.Equal(t, models.InstanceStatusCompleted, completed.Status)
	assert.Equal(t, "done", completed.Variables["notes"])

	cancelled := startInstance(t, app, definition.ID, nil)

	// The cancel body is optional.
	status, body = doRequest(t, app, http.MethodPost, "/instances/"+cancelled.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, models.InstanceStatusCancelled, decode[models.WorkflowInstance](t, body).Status)

	status, body = doRequest(t, app, http.MethodGet, "/instances?definition_id="+definition.ID+"&status=COMPLETED", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, decode[struct {
		TotalCount int `json:"total_count"`
	}](t, body).TotalCount)

	status, body = doRequest(t, app, http.MethodGet, "/instances/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow instance not found", decode[problem](t, body).Detail)
}

func TestAPIHandlers_Templates(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, decode[struct {
		TotalCount int `json:"total_count"`
	}](t, body).TotalCount)

	status, body = doRequest(t, app, http.MethodGet, "/templates?category=EXPENSE_APPROVAL", nil)
	require.Equal(t, http.StatusOK, status)

	filtered := decode[struct {
		Templates []*models.WorkflowTemplate `json:"templates"`
	}](t, body)
	require.Len(t, filtered.Templates, 1)
	assert.Equal(t, "tpl-expense-approval", filtered.Templates[0].ID)

	status, _ = doRequest(t, app, http.MethodGet, "/templates/tpl-missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, app, http.MethodPost, "/templates/tpl-invoice-approval/instantiate", web.InstantiateTemplateRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doRequest(t, app, http.MethodPost, "/templates/tpl-invoice-approval/instantiate", web.InstantiateTemplateRequest{
		OrganizationID: testOrganization,
		CreatedBy:      "alice",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	definition := decode[models.WorkflowDefinition](t, body)
	assert.Equal(t, models.CategoryInvoiceProcessing, definition.Category)
	assert.Len(t, definition.Steps, 7)

	status, body = doRequest(t, app, http.MethodGet, "/templates/tpl-invoice-approval", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, decode[models.WorkflowTemplate](t, body).UsageCount)

	status, body = doRequest(t, app, http.MethodPost, "/templates", web.CreateTemplateRequest{
		Name:     "Contract Review",
		Category: models.CategoryContractManagement,
		Rating:   4,
		Blueprint: models.TemplateBlueprint{Steps: []*models.WorkflowStep{
			{Name: "Start", Type: models.StepTypeStart, Order: 1},
			{Name: "End", Type: models.StepTypeEnd, Order: 2},
		}},
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.False(t, decode[models.WorkflowTemplate](t, body).IsBuiltIn)

	status, _ = doRequest(t, app, http.MethodPost, "/templates", web.CreateTemplateRequest{Name: "Rated", Rating: 9})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_Stats(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, _ := doRequest(t, app, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	definition := createActiveDefinition(t, app, stepsBody(models.StepTypeStart, models.StepTypeEnd))
	startInstance(t, app, definition.ID, nil)

	status, body := doRequest(t, app, http.MethodGet, "/stats?organization_id="+testOrganization, nil)
	require.Equal(t, http.StatusOK, status)

	stats := decode[models.WorkflowStats](t, body)
	assert.Equal(t, 1, stats.TotalDefinitions)
	assert.Equal(t, 1, stats.CompletedInstances)
	assert.InDelta(t, 1.0, stats.CompletionRate, 0.0001)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)

	health := decode[map[string]any](t, body)
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health, "checkers")
}

func TestAPIHandlers_StorageFailure(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := mocks.NewMockPersistence()
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))
	store.Definitions.On("List", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	store.Instances.On("GetByID", mock.Anything, "broken").Return(nil, errors.New("connection refused"))

	definitions := services.NewDefinitions(logger, store, nil)
	engine := services.NewEngine(logger, store, steps.NewProcessor(logger))
	templates, err := services.NewTemplates(logger, store, definitions)
	require.NoError(t, err)

	handlers := web.NewAPIHandlers(
		definitions,
		engine,
		templates,
		services.NewStatistics(store),
		trigger.NewDispatcher(logger, store.DefinitionRepository(), engine),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.Register(app)

	status, body := doRequest(t, app, http.MethodGet, "/definitions", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", decode[problem](t, body).Type)

	status, _ = doRequest(t, app, http.MethodGet, "/instances/broken", nil)
	assert.Equal(t, http.StatusInternalServerError, status)

	status, body = doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "unhealthy", decode[map[string]any](t, body)["status"])

	store.AssertExpectations(t)
	store.Definitions.AssertExpectations(t)
}

func TestAPIHandlers_Webhooks(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodPost, "/definitions", map[string]any{
		"name":            "Inbound Orders",
		"organization_id": testOrganization,
		"steps":           stepsBody(models.StepTypeStart, models.StepTypeEnd),
		"triggers": []map[string]any{
			{"type": "WEBHOOK", "is_active": true, "config": map[string]any{"secret": "s3cret"}},
			{"type": "WEBHOOK", "is_active": false},
			{"type": "MANUAL", "is_active": true},
		},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	definition := decode[models.WorkflowDefinition](t, body)
	require.Len(t, definition.Triggers, 3)

	secured := definition.Triggers[0].ID
	inactive := definition.Triggers[1].ID
	manual := definition.Triggers[2].ID

	status, _ = doRequest(t, app, http.MethodPost, "/definitions/"+definition.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, status)

	fire := func(triggerID, secret, payload string) (int, []byte) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+definition.ID+"/"+triggerID, bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")

		if secret != "" {
			req.Header.Set(web.WebhookSecretHeader, secret)
		}

		resp, err := app.Test(req)
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		return resp.StatusCode, respBody
	}

	tests := []struct {
		name         string
		triggerID    string
		secret       string
		payload      string
		expectedCode int
		expectedType string
	}{
		{"missing secret", secured, "", `{}`, http.StatusUnauthorized, "unauthorized"},
		{"wrong secret", secured, "nope", `{}`, http.StatusUnauthorized, "unauthorized"},
		{"inactive trigger", inactive, "", `{}`, http.StatusConflict, "conflict"},
		{"not a webhook trigger", manual, "", `{}`, http.StatusNotFound, "not_found"},
		{"unknown trigger", "missing", "", `{}`, http.StatusNotFound, "not_found"},
		{"invalid json", secured, "s3cret", `{`, http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := fire(tt.triggerID, tt.secret, tt.payload)
			assert.Equal(t, tt.expectedCode, status, string(body))
			assert.Equal(t, tt.expectedType, decode[problem](t, body).Type)
		})
	}

	status, body = fire(secured, "s3cret", `{"order": "A-17"}`)
	require.Equal(t, http.StatusCreated, status, string(body))

	instance := decode[models.WorkflowInstance](t, body)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, web.WebhookStarter, instance.StartedBy)

	fired, ok := instance.Variables["trigger"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "WEBHOOK", fired["type"])
	assert.Equal(t, secured, fired["triggerId"])
	assert.Equal(t, map[string]any{"order": "A-17"}, fired["payload"])
}
