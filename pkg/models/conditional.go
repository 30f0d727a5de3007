package models

// ConditionOperator compares a variable against a condition value.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "EQUALS"
	OperatorNotEquals   ConditionOperator = "NOT_EQUALS"
	OperatorGreaterThan ConditionOperator = "GREATER_THAN"
	OperatorLessThan    ConditionOperator = "LESS_THAN"
	OperatorContains    ConditionOperator = "CONTAINS"
	OperatorIn          ConditionOperator = "IN"
	OperatorNotIn       ConditionOperator = "NOT_IN"
	OperatorIsNull      ConditionOperator = "IS_NULL"
	OperatorIsNotNull   ConditionOperator = "IS_NOT_NULL"
)

// LogicalOperator combines a condition with the result accumulated before it.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// WorkflowCondition gates whether a step executes.
// LogicalOperator describes how this condition combines with the conditions before it;
// it is ignored on the first condition and defaults to AND.
type WorkflowCondition struct {
	Field           string            `json:"field"                      yaml:"field"`
	Operator        ConditionOperator `json:"operator"                   yaml:"operator"`
	Value           any               `json:"value,omitempty"            yaml:"value,omitempty"`
	LogicalOperator LogicalOperator   `json:"logical_operator,omitempty" yaml:"logical_operator,omitempty"`
}
