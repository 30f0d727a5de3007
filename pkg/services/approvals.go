package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/steps"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ApprovalOutcome is the result of a decision: the request as stored and the instance after it.
type ApprovalOutcome struct {
	Request  *models.ApprovalRequest  `json:"request"`
	Instance *models.WorkflowInstance `json:"instance"`
}

// requestApproval parks the instance at an APPROVAL step behind a new PENDING request.
func (e *Engine) requestApproval(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	instance *models.WorkflowInstance,
	step *models.WorkflowStep,
) error {
	now := e.now()

	request := &models.ApprovalRequest{
		ID:             uuid.NewString(),
		InstanceID:     instance.ID,
		StepID:         step.ID,
		StepName:       step.Name,
		DefinitionName: definition.Name,
		OrganizationID: instance.OrganizationID,
		RequestedBy:    instance.StartedBy,
		RequestedAt:    now,
		Assignee:       steps.ApprovalAssignee(step),
		Status:         models.ApprovalStatusPending,
		Data:           models.CopyVariables(instance.Variables),
	}

	if step.Timeout > 0 {
		dueDate := now.Add(step.Timeout)
		request.DueDate = &dueDate
	}

	err := e.saveApproval(ctx, request, nil)
	if err != nil {
		return err
	}

	instance.Status = models.InstanceStatusWaitingApproval

	e.logger.InfoContext(ctx, "approval requested",
		"instance_id", instance.ID,
		"approval_id", request.ID,
		"assignee", request.Assignee,
	)
	e.events.emit(ctx, request.ID, events.ApprovalRequested{
		BaseEvent:      events.NewBaseEvent(events.ApprovalRequestedEvent, request.OrganizationID, request.RequestedBy),
		ApprovalRef:    approvalRef(request),
		DefinitionName: request.DefinitionName,
		StepName:       request.StepName,
		DueDate:        request.DueDate,
	})

	return nil
}

// Approve accepts a PENDING request and resumes the instance after the approval step.
func (e *Engine) Approve(ctx context.Context, requestID, approver, comments string) (*ApprovalOutcome, error) {
	return e.decide(ctx, "engine.approve", requestID, func(
		ctx context.Context,
		request *models.ApprovalRequest,
		instance *models.WorkflowInstance,
	) error {
		if instance.Status != models.InstanceStatusWaitingApproval {
			return NewConflictError("Approve", "NOT_AWAITING_APPROVAL",
				fmt.Sprintf("instance %s is %s", instance.ID, instance.Status), ErrNotAwaitingApproval)
		}

		definition, err := e.persistence.DefinitionRepository().GetByID(ctx, instance.DefinitionID)
		if err != nil {
			return err
		}

		previous := request.Clone()
		now := e.now()
		request.Status = models.ApprovalStatusApproved
		request.RespondedAt = &now
		request.RespondedBy = approver
		request.Comments = comments

		err = e.saveApproval(ctx, request, previous)
		if err != nil {
			return err
		}

		instance.Status = models.InstanceStatusRunning
		instance.Variables = models.MergeVariables(instance.Variables, map[string]any{
			"lastApproval": map[string]any{
				"stepId":     request.StepID,
				"approvedBy": approver,
				"approvedAt": now.Format(time.RFC3339),
				"comments":   comments,
			},
		})

		e.metrics.ApprovalDecided("approved")
		e.events.emit(ctx, request.ID, events.ApprovalApproved{
			BaseEvent:   events.NewBaseEvent(events.ApprovalApprovedEvent, request.OrganizationID, approver),
			ApprovalRef: approvalRef(request),
			Comments:    comments,
		})

		return e.run(ctx, definition, instance, definition.Successor(definition.StepByID(request.StepID)), 0)
	})
}

// Reject refuses a PENDING request and fails the instance. The run loop does not resume.
func (e *Engine) Reject(ctx context.Context, requestID, rejecter, reason string) (*ApprovalOutcome, error) {
	return e.decide(ctx, "engine.reject", requestID, func(
		ctx context.Context,
		request *models.ApprovalRequest,
		instance *models.WorkflowInstance,
	) error {
		if instance.Status != models.InstanceStatusWaitingApproval {
			return NewConflictError("Reject", "NOT_AWAITING_APPROVAL",
				fmt.Sprintf("instance %s is %s", instance.ID, instance.Status), ErrNotAwaitingApproval)
		}

		previous := request.Clone()
		now := e.now()
		request.Status = models.ApprovalStatusRejected
		request.RespondedAt = &now
		request.RespondedBy = rejecter
		request.Comments = reason

		err := e.saveApproval(ctx, request, previous)
		if err != nil {
			return err
		}

		e.metrics.ApprovalDecided("rejected")
		e.events.emit(ctx, request.ID, events.ApprovalRejected{
			BaseEvent:   events.NewBaseEvent(events.ApprovalRejectedEvent, request.OrganizationID, rejecter),
			ApprovalRef: approvalRef(request),
			Reason:      reason,
		})

		instance.CompletedAt = &now
		e.failInstance(ctx, instance, request.StepID, fmt.Sprintf("Rejected by %s: %s", rejecter, reason))

		return nil
	})
}

// Delegate freezes a PENDING request as DELEGATED and returns the new PENDING request
// addressed to delegateTo. The instance keeps waiting.
func (e *Engine) Delegate(ctx context.Context, requestID, delegateTo, delegatedBy string) (*ApprovalOutcome, error) {
	if delegateTo == "" {
		return nil, NewValidationError("Delegate", "DELEGATE_REQUIRED", "delegate target is required", ErrInvalidRequest)
	}

	var delegated *models.ApprovalRequest

	outcome, err := e.decide(ctx, "engine.delegate", requestID, func(
		ctx context.Context,
		request *models.ApprovalRequest,
		instance *models.WorkflowInstance,
	) error {
		previous := request.Clone()
		now := e.now()

		delegated = request.Clone()
		delegated.ID = uuid.NewString()
		delegated.Assignee = delegateTo
		delegated.Status = models.ApprovalStatusPending
		delegated.RequestedAt = now
		delegated.DelegatedFrom = request.ID
		delegated.DelegatedTo = ""
		delegated.DelegatedToID = ""

		request.Status = models.ApprovalStatusDelegated
		request.DelegatedTo = delegateTo
		request.DelegatedToID = delegated.ID
		request.RespondedAt = &now
		request.RespondedBy = delegatedBy
		request.Comments = "Delegated by " + delegatedBy

		err := e.saveApproval(ctx, request, previous)
		if err != nil {
			return err
		}

		err = e.saveApproval(ctx, delegated, nil)
		if err != nil {
			return err
		}

		e.metrics.ApprovalDecided("delegated")
		e.events.emit(ctx, request.ID, events.ApprovalDelegated{
			BaseEvent:     events.NewBaseEvent(events.ApprovalDelegatedEvent, request.OrganizationID, delegatedBy),
			ApprovalRef:   approvalRef(request),
			DelegatedTo:   delegateTo,
			DelegatedToID: delegated.ID,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome.Request = delegated

	return outcome, nil
}

// decide runs fn on a PENDING request and its instance while holding the instance lock.
func (e *Engine) decide(
	ctx context.Context,
	spanName, requestID string,
	fn func(ctx context.Context, request *models.ApprovalRequest, instance *models.WorkflowInstance) error,
) (*ApprovalOutcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, spanName, attribute.String(otelhelper.ApprovalIDKey, requestID))
	defer span.End()

	request, err := e.persistence.ApprovalRepository().GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var decided *models.ApprovalRequest

	instance, err := e.mutate(ctx, spanName+".instance", request.InstanceID, func(ctx context.Context, instance *models.WorkflowInstance) error {
		// Re-read under the lock: a concurrent decision may have landed first.
		current, err := e.persistence.ApprovalRepository().GetByID(ctx, requestID)
		if err != nil {
			return err
		}

		if !current.IsPending() {
			return NewConflictError("decide", "APPROVAL_NOT_PENDING",
				fmt.Sprintf("approval request %s is %s", current.ID, current.Status), ErrApprovalNotPending)
		}

		decided = current

		return fn(ctx, current, instance)
	})
	if err != nil {
		return nil, err
	}

	return &ApprovalOutcome{Request: decided, Instance: instance}, nil
}

// expireApprovals marks the instance's PENDING requests EXPIRED.
func (e *Engine) expireApprovals(ctx context.Context, instance *models.WorkflowInstance) error {
	pending, err := e.persistence.ApprovalRepository().List(ctx, persistence.ApprovalFilter{
		InstanceID: instance.ID,
		Status:     models.ApprovalStatusPending,
	})
	if err != nil {
		return fmt.Errorf("failed to list approval requests: %w", err)
	}

	for _, request := range pending {
		previous := request.Clone()
		request.Status = models.ApprovalStatusExpired

		err = e.saveApproval(ctx, request, previous)
		if err != nil {
			return err
		}
	}

	return nil
}

// GetApproval retrieves an approval request by its ID.
func (e *Engine) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return e.persistence.ApprovalRepository().GetByID(ctx, id)
}

// ListPending returns PENDING requests of an organization addressed to assignee or
// to nobody in particular, oldest first.
func (e *Engine) ListPending(ctx context.Context, assignee, organizationID string) ([]*models.ApprovalRequest, error) {
	pending, err := e.persistence.ApprovalRepository().List(ctx, persistence.ApprovalFilter{
		OrganizationID: organizationID,
		Status:         models.ApprovalStatusPending,
		Assignees:      []string{assignee, models.UnassignedApprover},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}

	slices.SortStableFunc(pending, func(a, b *models.ApprovalRequest) int {
		return a.RequestedAt.Compare(b.RequestedAt)
	})

	return pending, nil
}

// ApprovalHistory returns every request ever raised for an instance, in request order.
func (e *Engine) ApprovalHistory(ctx context.Context, instanceID string) ([]*models.ApprovalRequest, error) {
	_, err := e.persistence.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	history, err := e.persistence.ApprovalRepository().List(ctx, persistence.ApprovalFilter{InstanceID: instanceID})
	if err != nil {
		return nil, fmt.Errorf("failed to list approval history: %w", err)
	}

	return history, nil
}

func approvalRef(request *models.ApprovalRequest) events.ApprovalRef {
	return events.ApprovalRef{
		ApprovalID: request.ID,
		InstanceID: request.InstanceID,
		StepID:     request.StepID,
		Assignee:   request.Assignee,
	}
}
