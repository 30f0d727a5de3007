package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepType is the closed set of step kinds the engine knows how to run.
type StepType string

const (
	StepTypeStart              StepType = "START"
	StepTypeEnd                StepType = "END"
	StepTypeApproval           StepType = "APPROVAL"
	StepTypeTask               StepType = "TASK"
	StepTypeHumanTask          StepType = "HUMAN_TASK"
	StepTypeNotification       StepType = "NOTIFICATION"
	StepTypeEmail              StepType = "EMAIL"
	StepTypeSMS                StepType = "SMS"
	StepTypeCondition          StepType = "CONDITION"
	StepTypeParallel           StepType = "PARALLEL"
	StepTypeDelay              StepType = "DELAY"
	StepTypeWebhook            StepType = "WEBHOOK"
	StepTypeAPICall            StepType = "API_CALL"
	StepTypeScript             StepType = "SCRIPT"
	StepTypeDocumentGeneration StepType = "DOCUMENT_GENERATION"
	StepTypeDataTransform      StepType = "DATA_TRANSFORM"
)

// StepTypes lists every step type, in declaration order.
func StepTypes() []StepType {
	return []StepType{
		StepTypeStart,
		StepTypeEnd,
		StepTypeApproval,
		StepTypeTask,
		StepTypeHumanTask,
		StepTypeNotification,
		StepTypeEmail,
		StepTypeSMS,
		StepTypeCondition,
		StepTypeParallel,
		StepTypeDelay,
		StepTypeWebhook,
		StepTypeAPICall,
		StepTypeScript,
		StepTypeDocumentGeneration,
		StepTypeDataTransform,
	}
}

// IsValid reports whether t is one of the known step types.
func (t StepType) IsValid() bool {
	for _, known := range StepTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// Suspends reports whether the run loop stops after executing a step of this type.
func (t StepType) Suspends() bool {
	return t == StepTypeApproval || t == StepTypeHumanTask
}

// WorkflowStep is a single typed unit of work within a definition. In JSON the timeout
// is a number of milliseconds; a Go duration string such as "48h" is accepted on input.
type WorkflowStep struct {
	ID         string               `json:"id"                   yaml:"id,omitempty"`
	Name       string               `json:"name"                 yaml:"name"`
	Locales    map[string]string    `json:"locales,omitempty"    yaml:"locales,omitempty"`
	Type       StepType             `json:"type"                 yaml:"type"`
	Order      int                  `json:"order"                yaml:"order"`
	Config     map[string]any       `json:"config,omitempty"     yaml:"config,omitempty"`
	Conditions []*WorkflowCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Timeout    time.Duration        `json:"timeout,omitempty"    yaml:"timeout,omitempty"`
	Assignee   string               `json:"assignee,omitempty"   yaml:"assignee,omitempty"`
}

type stepFields WorkflowStep

// MarshalJSON writes the timeout as whole milliseconds.
func (s WorkflowStep) MarshalJSON() ([]byte, error) {
	document := struct {
		*stepFields
		Timeout int64 `json:"timeout,omitempty"`
	}{
		stepFields: (*stepFields)(&s),
		Timeout:    s.Timeout.Milliseconds(),
	}

	return json.Marshal(document)
}

// UnmarshalJSON reads the timeout as milliseconds or as a duration string.
func (s *WorkflowStep) UnmarshalJSON(data []byte) error {
	document := struct {
		*stepFields
		Timeout json.RawMessage `json:"timeout,omitempty"`
	}{
		stepFields: (*stepFields)(s),
	}

	err := json.Unmarshal(data, &document)
	if err != nil {
		return err
	}

	s.Timeout, err = parseTimeout(document.Timeout)
	if err != nil {
		return fmt.Errorf("step %q: %w", s.Name, err)
	}

	return nil
}

func parseTimeout(raw json.RawMessage) (time.Duration, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	if raw[0] == '"' {
		var text string

		err := json.Unmarshal(raw, &text)
		if err != nil {
			return 0, err
		}

		timeout, err := time.ParseDuration(text)
		if err != nil {
			return 0, fmt.Errorf("invalid timeout %q: %w", text, err)
		}

		return timeout, nil
	}

	var millis int64

	err := json.Unmarshal(raw, &millis)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %s: want milliseconds or a duration string", raw)
	}

	return time.Duration(millis) * time.Millisecond, nil
}

// ConfigString returns the string value stored under key in the step config.
func (s *WorkflowStep) ConfigString(key string) string {
	if s.Config == nil {
		return ""
	}

	value, _ := s.Config[key].(string)

	return value
}

// Clone returns a deep copy of the step.
func (s *WorkflowStep) Clone() *WorkflowStep {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.Config = CopyVariables(s.Config)

	if s.Locales != nil {
		cloned.Locales = make(map[string]string, len(s.Locales))
		for locale, name := range s.Locales {
			cloned.Locales[locale] = name
		}
	}

	if s.Conditions != nil {
		cloned.Conditions = make([]*WorkflowCondition, 0, len(s.Conditions))
		for _, condition := range s.Conditions {
			if condition == nil {
				continue
			}

			c := *condition
			c.Value = copyValue(condition.Value)
			cloned.Conditions = append(cloned.Conditions, &c)
		}
	}

	return &cloned
}
