package services

import (
	"fmt"
	"strings"

	"github.com/dukex/procflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var variableJSONTypes = map[models.VariableType]string{
	models.VariableTypeString:  "string",
	models.VariableTypeNumber:  "number",
	models.VariableTypeBoolean: "boolean",
	models.VariableTypeDate:    "string",
	models.VariableTypeObject:  "object",
	models.VariableTypeArray:   "array",
}

// variablesSchema derives a JSON schema from variable declarations. Undeclared
// variables are allowed; optional ones may be null.
func variablesSchema(declarations []*models.WorkflowVariable) map[string]any {
	properties := make(map[string]any, len(declarations))
	required := make([]string, 0)

	for _, declaration := range declarations {
		jsonType, ok := variableJSONTypes[declaration.Type]
		if !ok {
			continue
		}

		property := map[string]any{"type": jsonType}
		if !declaration.Required {
			property["type"] = []string{jsonType, "null"}
		}

		if declaration.Type == models.VariableTypeDate {
			property["anyOf"] = []any{
				map[string]any{"type": "null"},
				map[string]any{"format": "date-time"},
				map[string]any{"format": "date"},
			}
		}

		properties[declaration.Name] = property

		if declaration.Required {
			required = append(required, declaration.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// prepareVariables copies the caller's variables, fills declared defaults for absent
// names and validates the result against the declarations.
func prepareVariables(declarations []*models.WorkflowVariable, variables map[string]any) (map[string]any, error) {
	prepared := models.CopyVariables(variables)
	if prepared == nil {
		prepared = make(map[string]any)
	}

	for _, declaration := range declarations {
		if _, present := prepared[declaration.Name]; present || declaration.DefaultValue == nil {
			continue
		}

		prepared[declaration.Name] = models.CopyValue(declaration.DefaultValue)
	}

	if len(declarations) == 0 {
		return prepared, nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(variablesSchema(declarations)),
		gojsonschema.NewGoLoader(prepared),
	)
	if err != nil {
		return nil, NewValidationError("prepareVariables", "INVALID_VARIABLES", err.Error(), ErrInvalidVariables)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			messages = append(messages, resultError.String())
		}

		return nil, NewValidationError(
			"prepareVariables",
			"INVALID_VARIABLES",
			fmt.Sprintf("invalid variables: %s", strings.Join(messages, "; ")),
			ErrInvalidVariables,
		)
	}

	return prepared, nil
}
