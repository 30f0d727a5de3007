package steps

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/dukex/procflow/pkg/conditional"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/template"
)

func (p *Processor) start(_ context.Context, _ *models.WorkflowStep, _ *models.WorkflowInstance) (map[string]any, error) {
	return map[string]any{"startedAt": p.now().UTC().Format(time.RFC3339)}, nil
}

func (p *Processor) end(_ context.Context, _ *models.WorkflowStep, _ *models.WorkflowInstance) (map[string]any, error) {
	return map[string]any{"completedAt": p.now().UTC().Format(time.RFC3339)}, nil
}

func (p *Processor) approval(_ context.Context, step *models.WorkflowStep, _ *models.WorkflowInstance) (map[string]any, error) {
	return map[string]any{
		"approvalRequested": true,
		"assignee":          ApprovalAssignee(step),
	}, nil
}

func (p *Processor) task(_ context.Context, step *models.WorkflowStep, _ *models.WorkflowInstance) (map[string]any, error) {
	taskType := step.ConfigString("taskType")
	if taskType == "" {
		taskType = string(step.Type)
	}

	output := map[string]any{
		"taskAssigned": true,
		"taskType":     taskType,
	}

	if step.Assignee != "" {
		output["assignee"] = step.Assignee
	}

	return output, nil
}

func (p *Processor) notification(ctx context.Context, step *models.WorkflowStep, instance *models.WorkflowInstance) (map[string]any, error) {
	tmpl := step.ConfigString("template")

	err := p.notifier.Notify(ctx, Notification{
		Channel:    channelFor(step.Type),
		Template:   tmpl,
		Recipient:  firstConfigString(step, "recipient", "to", "role"),
		InstanceID: instance.ID,
		StepID:     step.ID,
		Data:       models.CopyVariables(instance.Variables),
	})
	if err != nil {
		return nil, fmt.Errorf("notification for step %q failed: %w", step.Name, err)
	}

	return map[string]any{
		"notificationSent": true,
		"template":         tmpl,
	}, nil
}

func (p *Processor) sms(ctx context.Context, step *models.WorkflowStep, instance *models.WorkflowInstance) (map[string]any, error) {
	recipient := firstConfigString(step, "recipient", "phone", "to")

	err := p.notifier.Notify(ctx, Notification{
		Channel:    channelFor(step.Type),
		Template:   step.ConfigString("template"),
		Recipient:  recipient,
		InstanceID: instance.ID,
		StepID:     step.ID,
		Data:       models.CopyVariables(instance.Variables),
	})
	if err != nil {
		return nil, fmt.Errorf("sms for step %q failed: %w", step.Name, err)
	}

	return map[string]any{
		"smsSent":   true,
		"recipient": recipient,
	}, nil
}

// condition evaluates config.field against config.threshold with GREATER_THAN,
// or checks the field for truthiness when no threshold is configured.
func (p *Processor) condition(_ context.Context, step *models.WorkflowStep, instance *models.WorkflowInstance) (map[string]any, error) {
	field := step.ConfigString("field")
	if field == "" {
		return nil, fmt.Errorf("%w: condition step %q needs a field", ErrMissingConfig, step.Name)
	}

	var met bool

	if threshold, ok := step.Config["threshold"]; ok {
		met = conditional.EvaluateOne(&models.WorkflowCondition{
			Field:    field,
			Operator: models.OperatorGreaterThan,
			Value:    threshold,
		}, instance.Variables)
	} else {
		met = truthy(instance.Variables[field])
	}

	return map[string]any{
		"conditionMet":   met,
		"evaluatedField": field,
	}, nil
}

func (p *Processor) parallel(_ context.Context, step *models.WorkflowStep, _ *models.WorkflowInstance) (map[string]any, error) {
	branches := 0

	if value, ok := step.Config["branches"]; ok {
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Slice {
			branches = rv.Len()
		} else if n, ok := number(value); ok {
			branches = int(n)
		}
	}

	return map[string]any{
		"parallelStarted": true,
		"branches":        branches,
	}, nil
}

// delay records the configured delay. Waiting is left to whoever drives the instance.
func (p *Processor) delay(_ context.Context, step *models.WorkflowStep, _ *models.WorkflowInstance) (map[string]any, error) {
	delayMs := step.Timeout.Milliseconds()

	if n, ok := number(step.Config["delay"]); ok {
		delayMs = int64(n)
	}

	return map[string]any{
		"delayed": true,
		"delayMs": delayMs,
	}, nil
}

func (p *Processor) webhook(ctx context.Context, step *models.WorkflowStep, instance *models.WorkflowInstance) (map[string]any, error) {
	url := step.ConfigString("url")
	if url == "" {
		return nil, fmt.Errorf("%w: webhook step %q needs a url", ErrMissingConfig, step.Name)
	}

	response, err := p.integrator.Call(ctx, IntegrationRequest{
		Kind:       "webhook",
		Method:     firstConfigString(step, "method"),
		Target:     url,
		InstanceID: instance.ID,
		Payload:    models.CopyVariables(instance.Variables),
	})
	if err != nil {
		return nil, fmt.Errorf("webhook %s failed: %w", url, err)
	}

	if response.StatusCode >= 400 {
		return nil, fmt.Errorf("webhook %s returned status %d", url, response.StatusCode)
	}

	return map[string]any{
		"webhookCalled": true,
		"url":           url,
	}, nil
}

func (p *Processor) apiCall(ctx context.Context, step *models.WorkflowStep, instance *models.WorkflowInstance) (map[string]any, error) {
	endpoint := firstConfigString(step, "endpoint", "url")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: api call step %q needs an endpoint", ErrMissingConfig, step.Name)
	}

	response, err := p.integrator.Call(ctx, IntegrationRequest{
		Kind:       "api_call",
		Method:     firstConfigString(step, "method"),
		Target:     endpoint,
		InstanceID: instance.ID,
		Payload:    models.CopyVariables(instance.Variables),
	})
	if err != nil {
		return nil, fmt.Errorf("api call %s failed: %w", endpoint, err)
	}

	if response.StatusCode >= 400 {
		return nil, fmt.Errorf("api call %s returned status %d", endpoint, response.StatusCode)
	}

	output := map[string]any{
		"apiCalled":    true,
		"endpoint":     endpoint,
		"responseCode": response.StatusCode,
	}

	if key := step.ConfigString("responseVariable"); key != "" {
		output[key] = response.Body
	}

	return output, nil
}

func (p *Processor) script(ctx context.Context, step *models.WorkflowStep, instance *models.WorkflowInstance) (map[string]any, error) {
	name := firstConfigString(step, "scriptName", "script")

	p.logger.InfoContext(ctx, "script step executed",
		"instance_id", instance.ID,
		"step_id", step.ID,
		"script", name,
	)

	return map[string]any{
		"scriptExecuted": true,
		"scriptName":     name,
	}, nil
}

func (p *Processor) documentGeneration(ctx context.Context, step *models.WorkflowStep, instance *models.WorkflowInstance) (map[string]any, error) {
	tmpl := step.ConfigString("template")

	documentID, err := p.documents.Generate(ctx, DocumentRequest{
		Template:   tmpl,
		Format:     firstConfigString(step, "format"),
		InstanceID: instance.ID,
		Data:       models.CopyVariables(instance.Variables),
	})
	if err != nil {
		return nil, fmt.Errorf("document generation for step %q failed: %w", step.Name, err)
	}

	return map[string]any{
		"documentGenerated": true,
		"template":          tmpl,
		"documentId":        documentID,
	}, nil
}

// dataTransform renders every entry of config.mappings and writes the result under its key.
func (p *Processor) dataTransform(_ context.Context, step *models.WorkflowStep, instance *models.WorkflowInstance) (map[string]any, error) {
	format := step.ConfigString("outputFormat")
	if format == "" {
		format = "json"
	}

	output := map[string]any{
		"transformed":  true,
		"outputFormat": format,
	}

	mappings, _ := step.Config["mappings"].(map[string]any)
	for key, expression := range mappings {
		text, ok := expression.(string)
		if !ok || !template.NeedsTemplating(text) {
			output[key] = expression

			continue
		}

		value, err := template.RenderForStep(text, instance, step)
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", key, err)
		}

		output[key] = value
	}

	return output, nil
}

func channelFor(stepType models.StepType) string {
	switch stepType {
	case models.StepTypeEmail:
		return "email"
	case models.StepTypeSMS:
		return "sms"
	default:
		return "notification"
	}
}

func firstConfigString(step *models.WorkflowStep, keys ...string) string {
	for _, key := range keys {
		if value := step.ConfigString(key); value != "" {
			return value
		}
	}

	return ""
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	default:
		if n, ok := number(v); ok {
			return n != 0
		}

		return true
	}
}
