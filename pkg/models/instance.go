package models

import "time"

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusRunning         InstanceStatus = "RUNNING"
	InstanceStatusWaitingApproval InstanceStatus = "WAITING_APPROVAL"
	InstanceStatusPaused          InstanceStatus = "PAUSED"
	InstanceStatusCompleted       InstanceStatus = "COMPLETED"
	InstanceStatusFailed          InstanceStatus = "FAILED"
	InstanceStatusCancelled       InstanceStatus = "CANCELLED"
)

// NonTerminalInstanceStatuses lists the statuses an instance can still leave on its own.
func NonTerminalInstanceStatuses() []InstanceStatus {
	return []InstanceStatus{
		InstanceStatusRunning,
		InstanceStatusWaitingApproval,
		InstanceStatusPaused,
	}
}

// IsTerminal reports whether no regular transition leaves the status.
// FAILED is terminal except for an explicit retry of the failed step or a cancel.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

var instanceTransitions = map[InstanceStatus][]InstanceStatus{
	InstanceStatusRunning: {
		InstanceStatusWaitingApproval,
		InstanceStatusPaused,
		InstanceStatusCompleted,
		InstanceStatusFailed,
		InstanceStatusCancelled,
	},
	InstanceStatusWaitingApproval: {
		InstanceStatusRunning,
		InstanceStatusFailed,
		InstanceStatusCancelled,
	},
	InstanceStatusPaused: {
		InstanceStatusRunning,
		InstanceStatusCancelled,
	},
	InstanceStatusFailed: {
		InstanceStatusRunning, // retry of the failed step only
		InstanceStatusCancelled,
	},
}

// CanTransition reports whether the state machine has an edge from s to next.
func (s InstanceStatus) CanTransition(next InstanceStatus) bool {
	for _, allowed := range instanceTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Priority of an instance.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// StepStatus is the outcome of one step execution.
type StepStatus string

const (
	StepStatusPending    StepStatus = "PENDING"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusCompleted  StepStatus = "COMPLETED"
	StepStatusFailed     StepStatus = "FAILED"
	StepStatusSkipped    StepStatus = "SKIPPED"
)

// StepExecution is one append-only entry of an instance's history.
type StepExecution struct {
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name"`
	StepType    StepType       `json:"step_type"`
	Status      StepStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration  `json:"duration"`
	Input       map[string]any `json:"input"`
	Output      map[string]any `json:"output"`
	Error       string         `json:"error,omitempty"`
	ExecutedBy  string         `json:"executed_by,omitempty"`
	RetryCount  int            `json:"retry_count"`
}

// WorkflowInstance is one execution of a definition against concrete data.
type WorkflowInstance struct {
	ID               string           `json:"id"`
	DefinitionID     string           `json:"definition_id"`
	DefinitionName   string           `json:"definition_name"`
	Status           InstanceStatus   `json:"status"`
	CurrentStepID    string           `json:"current_step_id,omitempty"`
	CurrentStepOrder int              `json:"current_step_order"`
	Variables        map[string]any   `json:"variables"`
	StepHistory      []*StepExecution `json:"step_history"`
	StartedBy        string           `json:"started_by"`
	OrganizationID   string           `json:"organization_id"`
	Priority         Priority         `json:"priority"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// LastExecution returns the most recent history entry, or nil.
func (i *WorkflowInstance) LastExecution() *StepExecution {
	if len(i.StepHistory) == 0 {
		return nil
	}

	return i.StepHistory[len(i.StepHistory)-1]
}

// Clone returns a deep copy of the instance.
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}

	cloned := *i
	cloned.Variables = CopyVariables(i.Variables)
	cloned.DueDate = copyTime(i.DueDate)
	cloned.CompletedAt = copyTime(i.CompletedAt)

	cloned.StepHistory = make([]*StepExecution, 0, len(i.StepHistory))
	for _, execution := range i.StepHistory {
		cloned.StepHistory = append(cloned.StepHistory, execution.Clone())
	}

	return &cloned
}

// Clone returns a deep copy of the execution.
func (e *StepExecution) Clone() *StepExecution {
	if e == nil {
		return nil
	}

	cloned := *e
	cloned.CompletedAt = copyTime(e.CompletedAt)
	cloned.Input = CopyVariables(e.Input)
	cloned.Output = CopyVariables(e.Output)

	return &cloned
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}
