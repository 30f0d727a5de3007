// Package events defines the domain events the workflow engine emits for audit and notification consumers.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic every procflow event is published to.
const Topic = "procflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Definition lifecycle events.
	DefinitionCreatedEvent     EventType = "definition.created"
	DefinitionUpdatedEvent     EventType = "definition.updated"
	DefinitionActivatedEvent   EventType = "definition.activated"
	DefinitionDeactivatedEvent EventType = "definition.deactivated"
	DefinitionDeletedEvent     EventType = "definition.deleted"
	DefinitionClonedEvent      EventType = "definition.cloned"

	// Instance lifecycle events.
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstancePausedEvent    EventType = "instance.paused"
	InstanceResumedEvent   EventType = "instance.resumed"
	InstanceCancelledEvent EventType = "instance.cancelled"
	VariableSetEvent       EventType = "instance.variable.set"

	// Step execution events.
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
	StepSkippedEvent   EventType = "step.skipped"

	// Approval gate events.
	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalApprovedEvent  EventType = "approval.approved"
	ApprovalRejectedEvent  EventType = "approval.rejected"
	ApprovalDelegatedEvent EventType = "approval.delegated"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	OrganizationID string         `json:"organization_id"`
	Actor          string         `json:"actor,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a fresh event of the given type.
func NewBaseEvent(eventType EventType, organizationID, actor string) BaseEvent {
	return BaseEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		OrganizationID: organizationID,
		Actor:          actor,
	}
}

// Definition events

type DefinitionRef struct {
	DefinitionID   string `json:"definition_id"`
	DefinitionName string `json:"definition_name"`
	Version        int    `json:"version"`
	Category       string `json:"category"`
}

// Definition lets subscribers read the reference of any definition event.
func (r DefinitionRef) Definition() DefinitionRef {
	return r
}

type DefinitionCreated struct {
	BaseEvent
	DefinitionRef

	TemplateID string `json:"template_id,omitempty"`
}

func (e DefinitionCreated) GetType() EventType {
	return DefinitionCreatedEvent
}

type DefinitionUpdated struct {
	BaseEvent
	DefinitionRef
}

func (e DefinitionUpdated) GetType() EventType {
	return DefinitionUpdatedEvent
}

type DefinitionActivated struct {
	BaseEvent
	DefinitionRef
}

func (e DefinitionActivated) GetType() EventType {
	return DefinitionActivatedEvent
}

type DefinitionDeactivated struct {
	BaseEvent
	DefinitionRef
}

func (e DefinitionDeactivated) GetType() EventType {
	return DefinitionDeactivatedEvent
}

type DefinitionDeleted struct {
	BaseEvent
	DefinitionRef
}

func (e DefinitionDeleted) GetType() EventType {
	return DefinitionDeletedEvent
}

type DefinitionCloned struct {
	BaseEvent
	DefinitionRef

	SourceDefinitionID string `json:"source_definition_id"`
}

func (e DefinitionCloned) GetType() EventType {
	return DefinitionClonedEvent
}

// Instance events

type InstanceRef struct {
	InstanceID     string `json:"instance_id"`
	DefinitionID   string `json:"definition_id"`
	DefinitionName string `json:"definition_name"`
	Status         string `json:"status"`
}

type InstanceStarted struct {
	BaseEvent
	InstanceRef

	Priority  string         `json:"priority"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceCompleted struct {
	BaseEvent
	InstanceRef

	Duration      time.Duration `json:"duration"`
	StepsExecuted int           `json:"steps_executed"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent
	InstanceRef

	StepID string `json:"step_id,omitempty"`
	Error  string `json:"error"`
}

func (e InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

type InstancePaused struct {
	BaseEvent
	InstanceRef
}

func (e InstancePaused) GetType() EventType {
	return InstancePausedEvent
}

type InstanceResumed struct {
	BaseEvent
	InstanceRef
}

func (e InstanceResumed) GetType() EventType {
	return InstanceResumedEvent
}

type InstanceCancelled struct {
	BaseEvent
	InstanceRef

	Reason string `json:"reason"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

type VariableSet struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	Name       string `json:"name"`
	Value      any    `json:"value"`
}

func (e VariableSet) GetType() EventType {
	return VariableSetEvent
}

// Step events

type StepRef struct {
	InstanceID string `json:"instance_id"`
	StepID     string `json:"step_id"`
	StepName   string `json:"step_name"`
	StepType   string `json:"step_type"`
}

type StepCompleted struct {
	BaseEvent
	StepRef

	Output   map[string]any `json:"output,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent
	StepRef

	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

type StepSkipped struct {
	BaseEvent
	StepRef
}

func (e StepSkipped) GetType() EventType {
	return StepSkippedEvent
}

// Approval events

type ApprovalRef struct {
	ApprovalID string `json:"approval_id"`
	InstanceID string `json:"instance_id"`
	StepID     string `json:"step_id"`
	Assignee   string `json:"assignee"`
}

type ApprovalRequested struct {
	BaseEvent
	ApprovalRef

	DefinitionName string     `json:"definition_name"`
	StepName       string     `json:"step_name"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

func (e ApprovalRequested) GetType() EventType {
	return ApprovalRequestedEvent
}

type ApprovalApproved struct {
	BaseEvent
	ApprovalRef

	Comments string `json:"comments,omitempty"`
}

func (e ApprovalApproved) GetType() EventType {
	return ApprovalApprovedEvent
}

type ApprovalRejected struct {
	BaseEvent
	ApprovalRef

	Reason string `json:"reason"`
}

func (e ApprovalRejected) GetType() EventType {
	return ApprovalRejectedEvent
}

type ApprovalDelegated struct {
	BaseEvent
	ApprovalRef

	DelegatedTo   string `json:"delegated_to"`
	DelegatedToID string `json:"delegated_to_id"`
}

func (e ApprovalDelegated) GetType() EventType {
	return ApprovalDelegatedEvent
}

// New returns an empty event value for eventType, ready to unmarshal into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case DefinitionCreatedEvent:
		return &DefinitionCreated{}, true
	case DefinitionUpdatedEvent:
		return &DefinitionUpdated{}, true
	case DefinitionActivatedEvent:
		return &DefinitionActivated{}, true
	case DefinitionDeactivatedEvent:
		return &DefinitionDeactivated{}, true
	case DefinitionDeletedEvent:
		return &DefinitionDeleted{}, true
	case DefinitionClonedEvent:
		return &DefinitionCloned{}, true
	case InstanceStartedEvent:
		return &InstanceStarted{}, true
	case InstanceCompletedEvent:
		return &InstanceCompleted{}, true
	case InstanceFailedEvent:
		return &InstanceFailed{}, true
	case InstancePausedEvent:
		return &InstancePaused{}, true
	case InstanceResumedEvent:
		return &InstanceResumed{}, true
	case InstanceCancelledEvent:
		return &InstanceCancelled{}, true
	case VariableSetEvent:
		return &VariableSet{}, true
	case StepCompletedEvent:
		return &StepCompleted{}, true
	case StepFailedEvent:
		return &StepFailed{}, true
	case StepSkippedEvent:
		return &StepSkipped{}, true
	case ApprovalRequestedEvent:
		return &ApprovalRequested{}, true
	case ApprovalApprovedEvent:
		return &ApprovalApproved{}, true
	case ApprovalRejectedEvent:
		return &ApprovalRejected{}, true
	case ApprovalDelegatedEvent:
		return &ApprovalDelegated{}, true
	default:
		return nil, false
	}
}
