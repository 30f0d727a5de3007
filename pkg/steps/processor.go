// Package steps executes individual workflow steps and returns the patch they write
// into the instance's variable bag.
package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

var (
	// ErrUnsupportedStepType is returned for a step type with no registered handler.
	ErrUnsupportedStepType = errors.New("unsupported step type")
	// ErrMissingConfig is returned when a step lacks a configuration key its handler needs.
	ErrMissingConfig = errors.New("missing step configuration")
)

// Handler executes one step for an instance. The instance is read-only for handlers;
// whatever they need to persist goes into the returned output patch.
type Handler func(ctx context.Context, step *models.WorkflowStep, instance *models.WorkflowInstance) (map[string]any, error)

// Processor dispatches a step to the handler of its type.
type Processor struct {
	handlers   map[models.StepType]Handler
	notifier   Notifier
	documents  DocumentGenerator
	integrator Integrator
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Processor)

func WithNotifier(notifier Notifier) Option {
	return func(p *Processor) { p.notifier = notifier }
}

func WithDocumentGenerator(generator DocumentGenerator) Option {
	return func(p *Processor) { p.documents = generator }
}

func WithIntegrator(integrator Integrator) Option {
	return func(p *Processor) { p.integrator = integrator }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a processor with a handler for every step type.
// Collaborators not given as options log the call and report success.
func NewProcessor(logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		logger: logger.With("module", "step_processor"),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.notifier == nil {
		p.notifier = NewLogNotifier(logger)
	}

	if p.documents == nil {
		p.documents = NewLogDocumentGenerator(logger)
	}

	if p.integrator == nil {
		p.integrator = NewLogIntegrator(logger)
	}

	p.handlers = map[models.StepType]Handler{
		models.StepTypeStart:              p.start,
		models.StepTypeEnd:                p.end,
		models.StepTypeApproval:           p.approval,
		models.StepTypeTask:               p.task,
		models.StepTypeHumanTask:          p.task,
		models.StepTypeNotification:       p.notification,
		models.StepTypeEmail:              p.notification,
		models.StepTypeSMS:                p.sms,
		models.StepTypeCondition:          p.condition,
		models.StepTypeParallel:           p.parallel,
		models.StepTypeDelay:              p.delay,
		models.StepTypeWebhook:            p.webhook,
		models.StepTypeAPICall:            p.apiCall,
		models.StepTypeScript:             p.script,
		models.StepTypeDocumentGeneration: p.documentGeneration,
		models.StepTypeDataTransform:      p.dataTransform,
	}

	return p
}

// Register replaces the handler for a step type.
func (p *Processor) Register(stepType models.StepType, handler Handler) {
	p.handlers[stepType] = handler
}

// Handles reports whether a handler is registered for the step type.
func (p *Processor) Handles(stepType models.StepType) bool {
	_, ok := p.handlers[stepType]

	return ok
}

// Process runs the handler for step and returns its output patch.
func (p *Processor) Process(ctx context.Context, step *models.WorkflowStep, instance *models.WorkflowInstance) (map[string]any, error) {
	handler, ok := p.handlers[step.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStepType, step.Type)
	}

	p.logger.DebugContext(ctx, "processing step",
		"instance_id", instance.ID,
		"step_id", step.ID,
		"step_type", step.Type,
	)

	output, err := handler(ctx, step, instance)
	if err != nil {
		return nil, err
	}

	if output == nil {
		output = map[string]any{}
	}

	return output, nil
}

// ApprovalAssignee resolves who an APPROVAL step is addressed to: the step assignee,
// then the configured role, then the unassigned sentinel.
func ApprovalAssignee(step *models.WorkflowStep) string {
	if step.Assignee != "" {
		return step.Assignee
	}

	if role := step.ConfigString("role"); role != "" {
		return role
	}

	if assignee := step.ConfigString("assignee"); assignee != "" {
		return assignee
	}

	return models.UnassignedApprover
}
