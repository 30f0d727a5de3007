package models

// TriggerType describes what starts instances of a definition.
type TriggerType string

const (
	TriggerTypeManual    TriggerType = "MANUAL"
	TriggerTypeScheduled TriggerType = "SCHEDULED"
	TriggerTypeEvent     TriggerType = "EVENT"
	TriggerTypeWebhook   TriggerType = "WEBHOOK"
	TriggerTypeCondition TriggerType = "CONDITION"
	TriggerTypeAPI       TriggerType = "API"
)

type WorkflowTrigger struct {
	ID       string         `json:"id"               yaml:"id,omitempty"`
	Type     TriggerType    `json:"type"             yaml:"type"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	IsActive bool           `json:"is_active"        yaml:"is_active"`
}

// Clone returns a deep copy of the trigger.
func (t *WorkflowTrigger) Clone() *WorkflowTrigger {
	if t == nil {
		return nil
	}

	cloned := *t
	cloned.Config = CopyVariables(t.Config)

	return &cloned
}

// VariableType is the declared type of a workflow variable.
type VariableType string

const (
	VariableTypeString  VariableType = "STRING"
	VariableTypeNumber  VariableType = "NUMBER"
	VariableTypeBoolean VariableType = "BOOLEAN"
	VariableTypeDate    VariableType = "DATE"
	VariableTypeObject  VariableType = "OBJECT"
	VariableTypeArray   VariableType = "ARRAY"
)

// WorkflowVariable declares a variable an instance of the definition expects.
type WorkflowVariable struct {
	Name         string       `json:"name"                    yaml:"name"`
	Type         VariableType `json:"type"                    yaml:"type"`
	DefaultValue any          `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	Required     bool         `json:"required"                yaml:"required"`
}

// Clone returns a deep copy of the declaration.
func (v *WorkflowVariable) Clone() *WorkflowVariable {
	if v == nil {
		return nil
	}

	cloned := *v
	cloned.DefaultValue = copyValue(v.DefaultValue)

	return &cloned
}
