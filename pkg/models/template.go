package models

import "time"

// TemplateBlueprint is the partial definition a template seeds new definitions with.
type TemplateBlueprint struct {
	Steps     []*WorkflowStep     `json:"steps"               yaml:"steps"`
	Triggers  []*WorkflowTrigger  `json:"triggers,omitempty"  yaml:"triggers,omitempty"`
	Variables []*WorkflowVariable `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// WorkflowTemplate is a named blueprint used to seed new definitions.
type WorkflowTemplate struct {
	ID          string                   `json:"id"                yaml:"id"`
	Name        string                   `json:"name"              yaml:"name"`
	Description string                   `json:"description"       yaml:"description"`
	Locales     map[string]LocalizedText `json:"locales,omitempty" yaml:"locales,omitempty"`
	Category    WorkflowCategory         `json:"category"          yaml:"category"`
	Version     int                      `json:"version"           yaml:"version"`
	Blueprint   TemplateBlueprint        `json:"blueprint"         yaml:"blueprint"`
	IsBuiltIn   bool                     `json:"is_built_in"       yaml:"-"`
	UsageCount  int                      `json:"usage_count"       yaml:"-"`
	Rating      float64                  `json:"rating"            yaml:"rating"`
	CreatedAt   time.Time                `json:"created_at"        yaml:"-"`
}

// Clone returns a deep copy of the template.
func (t *WorkflowTemplate) Clone() *WorkflowTemplate {
	if t == nil {
		return nil
	}

	cloned := *t
	cloned.Locales = cloneLocales(t.Locales)
	cloned.Blueprint = TemplateBlueprint{}

	for _, step := range t.Blueprint.Steps {
		cloned.Blueprint.Steps = append(cloned.Blueprint.Steps, step.Clone())
	}

	for _, trigger := range t.Blueprint.Triggers {
		cloned.Blueprint.Triggers = append(cloned.Blueprint.Triggers, trigger.Clone())
	}

	for _, variable := range t.Blueprint.Variables {
		cloned.Blueprint.Variables = append(cloned.Blueprint.Variables, variable.Clone())
	}

	return &cloned
}

// WorkflowStats aggregates definition and instance figures of one organization.
type WorkflowStats struct {
	TotalDefinitions      int            `json:"total_definitions"`
	ActiveDefinitions     int            `json:"active_definitions"`
	TotalInstances        int            `json:"total_instances"`
	RunningInstances      int            `json:"running_instances"`
	CompletedInstances    int            `json:"completed_instances"`
	FailedInstances       int            `json:"failed_instances"`
	CompletionRate        float64        `json:"completion_rate"`
	AverageCompletionTime time.Duration  `json:"average_completion_time"`
	InstancesByCategory   map[string]int `json:"instances_by_category"`
	PendingApprovals      int            `json:"pending_approvals"`
}
