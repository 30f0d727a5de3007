package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/conditional"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/lock"
	"github.com/dukex/procflow/pkg/metrics"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/steps"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine drives workflow instances. Every mutating call runs the instance's
// step loop to completion or suspension before returning, holding the instance lock.
type Engine struct {
	persistence persistence.Persistence
	processor   *steps.Processor
	locker      lock.Locker
	events      *emitter
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

type EngineOption func(*Engine)

// WithLocker replaces the process-local instance locks, e.g. with Redis locks shared by replicas.
func WithLocker(locker lock.Locker) EngineOption {
	return func(e *Engine) { e.locker = locker }
}

func WithEventPublisher(publisher eventbus.EventPublisher) EngineOption {
	return func(e *Engine) { e.events.publisher = publisher }
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = tracer }
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(
	logger *slog.Logger,
	persistence persistence.Persistence,
	processor *steps.Processor,
	opts ...EngineOption,
) *Engine {
	logger = logger.With("module", "engine")

	e := &Engine{
		persistence: persistence,
		processor:   processor,
		locker:      lock.NewMemoryLocker(),
		events:      &emitter{logger: logger},
		tracer:      otelhelper.NoopTracer(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// StartRequest starts an instance of an active definition.
type StartRequest struct {
	DefinitionID string
	StartedBy    string
	Variables    map[string]any
	Priority     models.Priority
	DueDate      *time.Time
}

// Start creates an instance at the START step and runs it until it suspends or finishes.
// A failing step does not make Start fail: the returned instance is FAILED instead.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start",
		attribute.String(otelhelper.DefinitionIDKey, req.DefinitionID),
	)
	defer span.End()

	definition, err := e.persistence.DefinitionRepository().GetByID(ctx, req.DefinitionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			err = NewValidationError("Start", "DEFINITION_NOT_FOUND",
				fmt.Sprintf("workflow definition %s does not exist", req.DefinitionID), ErrStartDefinitionMissing)
		}

		otelhelper.SetError(span, err)

		return nil, err
	}

	if !definition.IsActive {
		return nil, ErrDefinitionNotActive
	}

	start := definition.StartStep()
	if start == nil {
		return nil, ErrNoStartStep
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	if !validPriority(priority) {
		return nil, NewValidationError("Start", "INVALID_PRIORITY", fmt.Sprintf("invalid priority '%s'", priority), ErrInvalidPriority)
	}

	variables, err := prepareVariables(definition.Variables, req.Variables)
	if err != nil {
		return nil, err
	}

	instance := &models.WorkflowInstance{
		ID:               uuid.NewString(),
		DefinitionID:     definition.ID,
		DefinitionName:   definition.Name,
		Status:           models.InstanceStatusRunning,
		CurrentStepID:    start.ID,
		CurrentStepOrder: start.Order,
		Variables:        variables,
		StepHistory:      []*models.StepExecution{},
		StartedBy:        req.StartedBy,
		OrganizationID:   definition.OrganizationID,
		Priority:         priority,
		DueDate:          req.DueDate,
		StartedAt:        e.now(),
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))

	lease, err := e.lock(ctx, instance.ID)
	if err != nil {
		return nil, err
	}
	defer e.unlock(ctx, lease, instance.ID)

	err = e.save(ctx, instance)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "instance started",
		"instance_id", instance.ID,
		"definition_id", definition.ID,
		"started_by", req.StartedBy,
	)
	e.metrics.InstanceStarted(string(definition.Category))
	e.events.emit(ctx, instance.ID, events.InstanceStarted{
		BaseEvent:   events.NewBaseEvent(events.InstanceStartedEvent, instance.OrganizationID, req.StartedBy),
		InstanceRef: instanceRef(instance),
		Priority:    string(instance.Priority),
		Variables:   models.CopyVariables(instance.Variables),
	})

	ctx, journal := withApprovalJournal(ctx)

	err = e.run(ctx, definition, instance, start, 0)
	if err != nil {
		e.rollbackApprovals(ctx, journal)
		otelhelper.SetError(span, err)

		return nil, err
	}

	return instance, nil
}

// run executes step and its successors until the instance suspends or leaves RUNNING.
// The instance is saved after every step. retryCount applies to the first executed step.
func (e *Engine) run(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	instance *models.WorkflowInstance,
	step *models.WorkflowStep,
	retryCount int,
) error {
	for instance.Status == models.InstanceStatusRunning {
		if step == nil {
			e.failInstance(ctx, instance, "", fmt.Sprintf("no successor step for order %d", instance.CurrentStepOrder))

			return e.save(ctx, instance)
		}

		instance.CurrentStepID = step.ID
		instance.CurrentStepOrder = step.Order

		if !conditional.Evaluate(step.Conditions, instance.Variables) {
			e.skipStep(ctx, instance, step)

			err := e.save(ctx, instance)
			if err != nil {
				return err
			}

			step = definition.Successor(step)

			continue
		}

		suspended := e.executeStep(ctx, definition, instance, step, retryCount)
		retryCount = 0

		err := e.save(ctx, instance)
		if err != nil {
			return err
		}

		if suspended {
			return nil
		}

		step = definition.Successor(step)
	}

	return nil
}

func (e *Engine) skipStep(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep) {
	now := e.now()

	instance.StepHistory = append(instance.StepHistory, &models.StepExecution{
		StepID:      step.ID,
		StepName:    step.Name,
		StepType:    step.Type,
		Status:      models.StepStatusSkipped,
		StartedAt:   now,
		CompletedAt: &now,
		Input:       models.CopyVariables(instance.Variables),
		Output:      map[string]any{},
	})

	e.logger.DebugContext(ctx, "step skipped", "instance_id", instance.ID, "step_id", step.ID)
	e.metrics.StepExecuted(string(step.Type), string(models.StepStatusSkipped), 0)
	e.events.emit(ctx, instance.ID, events.StepSkipped{
		BaseEvent: events.NewBaseEvent(events.StepSkippedEvent, instance.OrganizationID, ""),
		StepRef:   stepRef(instance, step),
	})
}

// executeStep runs one step through the processor and applies its outcome.
// It reports whether the run loop must stop at this step.
func (e *Engine) executeStep(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	instance *models.WorkflowInstance,
	step *models.WorkflowStep,
	retryCount int,
) bool {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.step",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	execution := &models.StepExecution{
		StepID:     step.ID,
		StepName:   step.Name,
		StepType:   step.Type,
		Status:     models.StepStatusInProgress,
		StartedAt:  e.now(),
		Input:      models.CopyVariables(instance.Variables),
		RetryCount: retryCount,
	}

	output, err := e.processor.Process(ctx, step, instance)

	completedAt := e.now()
	execution.CompletedAt = &completedAt
	execution.Duration = completedAt.Sub(execution.StartedAt)

	if err != nil {
		otelhelper.SetError(span, err)

		execution.Status = models.StepStatusFailed
		execution.Error = err.Error()
		execution.Output = map[string]any{}
		instance.StepHistory = append(instance.StepHistory, execution)

		e.logger.ErrorContext(ctx, "step failed", "instance_id", instance.ID, "step_id", step.ID, "error", err)
		e.metrics.StepExecuted(string(step.Type), string(models.StepStatusFailed), execution.Duration)
		e.events.emit(ctx, instance.ID, events.StepFailed{
			BaseEvent:  events.NewBaseEvent(events.StepFailedEvent, instance.OrganizationID, ""),
			StepRef:    stepRef(instance, step),
			Error:      err.Error(),
			RetryCount: retryCount,
		})
		e.failInstance(ctx, instance, step.ID, err.Error())

		return true
	}

	execution.Status = models.StepStatusCompleted
	execution.Output = output
	instance.Variables = models.MergeVariables(instance.Variables, output)
	instance.StepHistory = append(instance.StepHistory, execution)

	e.metrics.StepExecuted(string(step.Type), string(models.StepStatusCompleted), execution.Duration)
	e.events.emit(ctx, instance.ID, events.StepCompleted{
		BaseEvent: events.NewBaseEvent(events.StepCompletedEvent, instance.OrganizationID, ""),
		StepRef:   stepRef(instance, step),
		Output:    models.CopyVariables(output),
		Duration:  execution.Duration,
	})

	if step.Type == models.StepTypeEnd {
		e.completeInstance(ctx, instance)

		return true
	}

	if !step.Type.Suspends() {
		return false
	}

	if step.Type == models.StepTypeApproval {
		err = e.requestApproval(ctx, definition, instance, step)
		if err != nil {
			e.failInstance(ctx, instance, step.ID, err.Error())
		}

		return true
	}

	e.logger.InfoContext(ctx, "instance waiting on human task", "instance_id", instance.ID, "step_id", step.ID)

	return true
}

func (e *Engine) completeInstance(ctx context.Context, instance *models.WorkflowInstance) {
	now := e.now()

	instance.Status = models.InstanceStatusCompleted
	instance.CompletedAt = &now

	e.logger.InfoContext(ctx, "instance completed", "instance_id", instance.ID)
	e.metrics.InstanceFinished(string(models.InstanceStatusCompleted))
	e.events.emit(ctx, instance.ID, events.InstanceCompleted{
		BaseEvent:     events.NewBaseEvent(events.InstanceCompletedEvent, instance.OrganizationID, ""),
		InstanceRef:   instanceRef(instance),
		Duration:      now.Sub(instance.StartedAt),
		StepsExecuted: len(instance.StepHistory),
	})
}

func (e *Engine) failInstance(ctx context.Context, instance *models.WorkflowInstance, stepID, message string) {
	instance.Status = models.InstanceStatusFailed
	instance.Error = message

	e.logger.WarnContext(ctx, "instance failed", "instance_id", instance.ID, "step_id", stepID, "error", message)
	e.metrics.InstanceFinished(string(models.InstanceStatusFailed))
	e.events.emit(ctx, instance.ID, events.InstanceFailed{
		BaseEvent:   events.NewBaseEvent(events.InstanceFailedEvent, instance.OrganizationID, ""),
		InstanceRef: instanceRef(instance),
		StepID:      stepID,
		Error:       message,
	})
}

// GetInstance retrieves an instance by its ID.
func (e *Engine) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return e.persistence.InstanceRepository().GetByID(ctx, id)
}

// ListInstancesRequest contains options for listing instances.
type ListInstancesRequest struct {
	Limit  int
	Offset int

	OrganizationID string
	DefinitionID   string
	Status         models.InstanceStatus
	StartedBy      string
}

type ListInstancesResponse struct {
	Instances   []*models.WorkflowInstance `json:"instances"`
	TotalCount  int64                      `json:"total_count"`
	HasNextPage bool                       `json:"has_next_page"`
}

// ListInstances returns instances newest first.
func (e *Engine) ListInstances(ctx context.Context, req ListInstancesRequest) (*ListInstancesResponse, error) {
	limit, offset := normalizePage(req.Limit, req.Offset)

	filter := persistence.InstanceFilter{
		OrganizationID: req.OrganizationID,
		DefinitionID:   req.DefinitionID,
		StartedBy:      req.StartedBy,
	}
	if req.Status != "" {
		filter.Statuses = []models.InstanceStatus{req.Status}
	}

	instances, err := e.persistence.InstanceRepository().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	page, hasNext := paginate(instances, limit, offset)

	return &ListInstancesResponse{
		Instances:   page,
		TotalCount:  int64(len(instances)),
		HasNextPage: hasNext,
	}, nil
}

// Timeline returns the step history of an instance, oldest first.
func (e *Engine) Timeline(ctx context.Context, id string) ([]*models.StepExecution, error) {
	instance, err := e.persistence.InstanceRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return instance.StepHistory, nil
}

// Pause stops a RUNNING instance from advancing until Resume.
func (e *Engine) Pause(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return e.mutate(ctx, "engine.pause", id, func(ctx context.Context, instance *models.WorkflowInstance) error {
		if instance.Status != models.InstanceStatusRunning {
			return NewConflictError("Pause", "INSTANCE_NOT_RUNNING",
				fmt.Sprintf("instance %s is %s", instance.ID, instance.Status), ErrInstanceNotRunning)
		}

		instance.Status = models.InstanceStatusPaused

		e.events.emit(ctx, instance.ID, events.InstancePaused{
			BaseEvent:   events.NewBaseEvent(events.InstancePausedEvent, instance.OrganizationID, ""),
			InstanceRef: instanceRef(instance),
		})

		return nil
	})
}

// Resume moves a PAUSED instance back to RUNNING and continues after its current step.
func (e *Engine) Resume(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return e.mutate(ctx, "engine.resume", id, func(ctx context.Context, instance *models.WorkflowInstance) error {
		if instance.Status != models.InstanceStatusPaused {
			return NewConflictError("Resume", "INSTANCE_NOT_PAUSED",
				fmt.Sprintf("instance %s is %s", instance.ID, instance.Status), ErrInstanceNotPaused)
		}

		definition, err := e.persistence.DefinitionRepository().GetByID(ctx, instance.DefinitionID)
		if err != nil {
			return err
		}

		instance.Status = models.InstanceStatusRunning

		e.events.emit(ctx, instance.ID, events.InstanceResumed{
			BaseEvent:   events.NewBaseEvent(events.InstanceResumedEvent, instance.OrganizationID, ""),
			InstanceRef: instanceRef(instance),
		})

		return e.run(ctx, definition, instance, definition.Successor(definition.StepByID(instance.CurrentStepID)), 0)
	})
}

// Cancel stops an unfinished instance and expires its pending approval requests.
func (e *Engine) Cancel(ctx context.Context, id, reason string) (*models.WorkflowInstance, error) {
	return e.mutate(ctx, "engine.cancel", id, func(ctx context.Context, instance *models.WorkflowInstance) error {
		if !instance.Status.CanTransition(models.InstanceStatusCancelled) {
			return NewConflictError("Cancel", "INSTANCE_TERMINAL",
				fmt.Sprintf("instance %s is already %s", instance.ID, instance.Status), ErrInstanceTerminal)
		}

		err := e.expireApprovals(ctx, instance)
		if err != nil {
			return err
		}

		now := e.now()
		instance.Status = models.InstanceStatusCancelled
		instance.Error = reason
		instance.CompletedAt = &now

		e.logger.InfoContext(ctx, "instance cancelled", "instance_id", instance.ID, "reason", reason)
		e.metrics.InstanceFinished(string(models.InstanceStatusCancelled))
		e.events.emit(ctx, instance.ID, events.InstanceCancelled{
			BaseEvent:   events.NewBaseEvent(events.InstanceCancelledEvent, instance.OrganizationID, ""),
			InstanceRef: instanceRef(instance),
			Reason:      reason,
		})

		return nil
	})
}

// RetryFailedStep re-executes the step whose failure ended a FAILED instance.
func (e *Engine) RetryFailedStep(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return e.mutate(ctx, "engine.retry", id, func(ctx context.Context, instance *models.WorkflowInstance) error {
		if instance.Status != models.InstanceStatusFailed {
			return NewConflictError("RetryFailedStep", "INSTANCE_NOT_FAILED",
				fmt.Sprintf("instance %s is %s", instance.ID, instance.Status), ErrInstanceNotFailed)
		}

		last := instance.LastExecution()
		if last == nil || last.Status != models.StepStatusFailed {
			return ErrNoFailedStep
		}

		definition, err := e.persistence.DefinitionRepository().GetByID(ctx, instance.DefinitionID)
		if err != nil {
			return err
		}

		step := definition.StepByID(last.StepID)
		if step == nil {
			return NewConflictError("RetryFailedStep", "STEP_REMOVED",
				fmt.Sprintf("step %s no longer exists in definition %s", last.StepID, definition.ID), ErrNoFailedStep)
		}

		instance.Status = models.InstanceStatusRunning
		instance.Error = ""

		e.logger.InfoContext(ctx, "retrying failed step", "instance_id", instance.ID, "step_id", step.ID, "attempt", last.RetryCount+1)

		return e.run(ctx, definition, instance, step, last.RetryCount+1)
	})
}

// CompleteTask records the outcome of the HUMAN_TASK a RUNNING instance is parked on
// and continues with the next step.
func (e *Engine) CompleteTask(ctx context.Context, id string, output map[string]any, completedBy string) (*models.WorkflowInstance, error) {
	return e.mutate(ctx, "engine.complete_task", id, func(ctx context.Context, instance *models.WorkflowInstance) error {
		definition, err := e.persistence.DefinitionRepository().GetByID(ctx, instance.DefinitionID)
		if err != nil {
			return err
		}

		step := definition.StepByID(instance.CurrentStepID)
		last := instance.LastExecution()

		if instance.Status != models.InstanceStatusRunning ||
			step == nil || step.Type != models.StepTypeHumanTask ||
			last == nil || last.StepID != step.ID || last.Status != models.StepStatusCompleted {
			return NewConflictError("CompleteTask", "NOT_AWAITING_TASK",
				fmt.Sprintf("instance %s is not waiting on a human task", instance.ID), ErrNotAwaitingTask)
		}

		instance.Variables = models.MergeVariables(instance.Variables, output)
		instance.Variables["lastTask"] = map[string]any{
			"stepId":      step.ID,
			"completedBy": completedBy,
			"completedAt": e.now().Format(time.RFC3339),
		}

		return e.run(ctx, definition, instance, definition.Successor(step), 0)
	})
}

// GetVariables returns a copy of the instance's variable bag.
func (e *Engine) GetVariables(ctx context.Context, id string) (map[string]any, error) {
	instance, err := e.persistence.InstanceRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	variables := models.CopyVariables(instance.Variables)
	if variables == nil {
		variables = map[string]any{}
	}

	return variables, nil
}

// SetVariable writes one variable of an unfinished instance.
func (e *Engine) SetVariable(ctx context.Context, id, name string, value any) (*models.WorkflowInstance, error) {
	if name == "" {
		return nil, NewValidationError("SetVariable", "NAME_REQUIRED", "variable name is required", ErrNameRequired)
	}

	return e.mutate(ctx, "engine.set_variable", id, func(ctx context.Context, instance *models.WorkflowInstance) error {
		// FAILED stays writable so a retry can run with corrected input.
		if instance.Status == models.InstanceStatusCompleted || instance.Status == models.InstanceStatusCancelled {
			return NewConflictError("SetVariable", "INSTANCE_TERMINAL",
				fmt.Sprintf("instance %s is already %s", instance.ID, instance.Status), ErrInstanceTerminal)
		}

		instance.Variables = models.MergeVariables(instance.Variables, map[string]any{name: value})

		e.events.emit(ctx, instance.ID, events.VariableSet{
			BaseEvent:  events.NewBaseEvent(events.VariableSetEvent, instance.OrganizationID, ""),
			InstanceID: instance.ID,
			Name:       name,
			Value:      value,
		})

		return nil
	})
}

// mutate loads the instance under its lock, applies fn to a working copy and saves it.
// Nothing is saved when fn returns an error before the run loop persisted anything, and
// approval writes not followed by a successful instance save are rolled back.
func (e *Engine) mutate(
	ctx context.Context,
	spanName, id string,
	fn func(ctx context.Context, instance *models.WorkflowInstance) error,
) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, spanName, attribute.String(otelhelper.InstanceIDKey, id))
	defer span.End()

	lease, err := e.lock(ctx, id)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}
	defer e.unlock(ctx, lease, id)

	instance, err := e.persistence.InstanceRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, journal := withApprovalJournal(ctx)

	err = fn(ctx, instance)
	if err != nil {
		e.rollbackApprovals(ctx, journal)

		if !IsConflictError(err) && !IsValidationError(err) && !IsNotFound(err) {
			otelhelper.SetError(span, err)
		}

		return nil, err
	}

	err = e.save(ctx, instance)
	if err != nil {
		e.rollbackApprovals(ctx, journal)
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceStatusKey, string(instance.Status)))

	return instance, nil
}

// save stores the instance and commits the approval writes made since the previous save.
func (e *Engine) save(ctx context.Context, instance *models.WorkflowInstance) error {
	err := e.persistence.InstanceRepository().Save(ctx, instance)
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", instance.ID, err)
	}

	journalFrom(ctx).commit()

	return nil
}

func (e *Engine) lock(ctx context.Context, instanceID string) (lock.Lease, error) {
	lease, err := e.locker.Acquire(ctx, lock.InstanceKey(instanceID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock instance %s: %w", instanceID, err)
	}

	return lease, nil
}

func (e *Engine) unlock(ctx context.Context, lease lock.Lease, instanceID string) {
	err := lease.Release(context.WithoutCancel(ctx))
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.WarnContext(ctx, "failed to release instance lock", "instance_id", instanceID, "error", err)
	}
}

func validPriority(priority models.Priority) bool {
	switch priority {
	case models.PriorityLow, models.PriorityNormal, models.PriorityHigh, models.PriorityUrgent:
		return true
	default:
		return false
	}
}

func instanceRef(instance *models.WorkflowInstance) events.InstanceRef {
	return events.InstanceRef{
		InstanceID:     instance.ID,
		DefinitionID:   instance.DefinitionID,
		DefinitionName: instance.DefinitionName,
		Status:         string(instance.Status),
	}
}

func stepRef(instance *models.WorkflowInstance, step *models.WorkflowStep) events.StepRef {
	return events.StepRef{
		InstanceID: instance.ID,
		StepID:     step.ID,
		StepName:   step.Name,
		StepType:   string(step.Type),
	}
}
