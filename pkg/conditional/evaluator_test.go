package conditional

import (
	"encoding/json"
	"testing"

	"github.com/dukex/procflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func cond(field string, op models.ConditionOperator, value any) *models.WorkflowCondition {
	return &models.WorkflowCondition{Field: field, Operator: op, Value: value}
}

func withLogic(c *models.WorkflowCondition, op models.LogicalOperator) *models.WorkflowCondition {
	c.LogicalOperator = op

	return c
}

func TestEvaluateOne(t *testing.T) {
	variables := map[string]any{
		"amount":   15000,
		"ratio":    0.5,
		"currency": "EUR",
		"vendor":   "ACME Industries",
		"tags":     []any{"urgent", "it"},
		"nothing":  nil,
		"json":     json.Number("42"),
		"code":     "B-12",
	}

	tests := []struct {
		name      string
		condition *models.WorkflowCondition
		expected  bool
	}{
		{"equals string", cond("currency", models.OperatorEquals, "EUR"), true},
		{"equals int against float", cond("amount", models.OperatorEquals, 15000.0), true},
		{"equals json number", cond("json", models.OperatorEquals, 42), true},
		{"equals different type", cond("amount", models.OperatorEquals, "15000"), false},
		{"equals missing field with nil", cond("missing", models.OperatorEquals, nil), true},
		{"not equals", cond("currency", models.OperatorNotEquals, "RON"), true},
		{"not equals same", cond("currency", models.OperatorNotEquals, "EUR"), false},
		{"greater than", cond("amount", models.OperatorGreaterThan, 10000), true},
		{"greater than equal value", cond("amount", models.OperatorGreaterThan, 15000), false},
		{"greater than float", cond("ratio", models.OperatorGreaterThan, 0.25), true},
		{"greater than numeric text", cond("amount", models.OperatorGreaterThan, "100"), true},
		{"greater than missing", cond("missing", models.OperatorGreaterThan, 1), false},
		{"greater than strings", cond("code", models.OperatorGreaterThan, "A-99"), true},
		{"less than", cond("amount", models.OperatorLessThan, 20000), true},
		{"less than incomparable", cond("tags", models.OperatorLessThan, 3), false},
		{"contains", cond("vendor", models.OperatorContains, "ACME"), true},
		{"contains coerces number", cond("amount", models.OperatorContains, 500), true},
		{"contains missing field", cond("missing", models.OperatorContains, "x"), false},
		{"in list", cond("currency", models.OperatorIn, []any{"EUR", "USD"}), true},
		{"in typed list", cond("currency", models.OperatorIn, []string{"RON", "USD"}), false},
		{"in numeric list", cond("amount", models.OperatorIn, []int{15000, 20000}), true},
		{"in requires list", cond("currency", models.OperatorIn, "EUR"), false},
		{"not in", cond("currency", models.OperatorNotIn, []any{"RON"}), true},
		{"not in member", cond("currency", models.OperatorNotIn, []any{"EUR"}), false},
		{"not in requires list", cond("currency", models.OperatorNotIn, "RON"), false},
		{"is null missing", cond("missing", models.OperatorIsNull, nil), true},
		{"is null nil value", cond("nothing", models.OperatorIsNull, nil), true},
		{"is null present", cond("currency", models.OperatorIsNull, nil), false},
		{"is not null", cond("currency", models.OperatorIsNotNull, nil), true},
		{"is not null nil value", cond("nothing", models.OperatorIsNotNull, nil), false},
		{"unknown operator", cond("currency", "MATCHES_REGEX", ".*"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EvaluateOne(tt.condition, variables))
		})
	}
}

func TestEvaluate_EmptyListIsTrue(t *testing.T) {
	assert.True(t, Evaluate(nil, map[string]any{}))
	assert.True(t, Evaluate([]*models.WorkflowCondition{}, nil))
}

func TestEvaluate_LeftFold(t *testing.T) {
	variables := map[string]any{"amount": 5000, "department": "IT", "urgent": true}

	tests := []struct {
		name       string
		conditions []*models.WorkflowCondition
		expected   bool
	}{
		{
			name: "single false",
			conditions: []*models.WorkflowCondition{
				cond("amount", models.OperatorGreaterThan, 10000),
			},
			expected: false,
		},
		{
			name: "implicit and",
			conditions: []*models.WorkflowCondition{
				cond("amount", models.OperatorLessThan, 10000),
				cond("department", models.OperatorEquals, "HR"),
			},
			expected: false,
		},
		{
			name: "or rescues false",
			conditions: []*models.WorkflowCondition{
				cond("amount", models.OperatorGreaterThan, 10000),
				withLogic(cond("department", models.OperatorEquals, "IT"), models.LogicalOr),
			},
			expected: true,
		},
		{
			name: "operator on first condition is ignored",
			conditions: []*models.WorkflowCondition{
				withLogic(cond("amount", models.OperatorGreaterThan, 10000), models.LogicalOr),
				cond("department", models.OperatorEquals, "IT"),
			},
			expected: false,
		},
		{
			// (true OR false) AND false: the operator belongs to the condition it is attached to.
			name: "mixed operators fold left to right",
			conditions: []*models.WorkflowCondition{
				cond("department", models.OperatorEquals, "IT"),
				withLogic(cond("amount", models.OperatorGreaterThan, 10000), models.LogicalOr),
				withLogic(cond("urgent", models.OperatorEquals, false), models.LogicalAnd),
			},
			expected: false,
		},
		{
			// (false AND true) OR true, not false AND (true OR true).
			name: "mixed operators without precedence",
			conditions: []*models.WorkflowCondition{
				cond("amount", models.OperatorGreaterThan, 10000),
				withLogic(cond("department", models.OperatorEquals, "IT"), models.LogicalAnd),
				withLogic(cond("urgent", models.OperatorEquals, true), models.LogicalOr),
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Evaluate(tt.conditions, variables))
		})
	}
}
