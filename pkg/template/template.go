// Package template renders text/template expressions used by step configurations.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

// RenderForStep renders input against the running instance and the step being executed.
// Templates see .vars (and its alias .variables), .instance and .step.
func RenderForStep(input string, instance *models.WorkflowInstance, step *models.WorkflowStep) (any, error) {
	data := map[string]any{
		"vars":      instance.Variables,
		"variables": instance.Variables,
		"instance": map[string]any{
			"id":              instance.ID,
			"definition_id":   instance.DefinitionID,
			"definition_name": instance.DefinitionName,
			"organization_id": instance.OrganizationID,
			"started_by":      instance.StartedBy,
			"priority":        string(instance.Priority),
		},
	}

	if step != nil {
		data["step"] = map[string]any{
			"id":    step.ID,
			"name":  step.Name,
			"type":  string(step.Type),
			"order": step.Order,
		}
	}

	return Render(input, data)
}

// NeedsTemplating reports whether input contains a template action.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{") && strings.Contains(input, "}}")
}

// Render executes templateStr against data and converts the output to JSON values,
// numbers or booleans when it looks like one.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("step").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}
				num := make([]byte, 1)
				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
