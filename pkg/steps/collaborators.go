package steps

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Notification is what COMMUNICATION steps hand to a Notifier.
type Notification struct {
	Channel    string
	Template   string
	Recipient  string
	InstanceID string
	StepID     string
	Data       map[string]any
}

// Notifier delivers email, SMS and in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// DocumentRequest describes a document a DOCUMENT_GENERATION step asks for.
type DocumentRequest struct {
	Template   string
	Format     string
	InstanceID string
	Data       map[string]any
}

// DocumentGenerator renders documents and returns the id of the stored result.
type DocumentGenerator interface {
	Generate(ctx context.Context, request DocumentRequest) (string, error)
}

// IntegrationRequest is an outbound call made by WEBHOOK and API_CALL steps.
type IntegrationRequest struct {
	Kind       string
	Method     string
	Target     string
	InstanceID string
	Payload    map[string]any
}

type IntegrationResponse struct {
	StatusCode int
	Body       map[string]any
}

// Integrator performs outbound integration calls.
type Integrator interface {
	Call(ctx context.Context, request IntegrationRequest) (IntegrationResponse, error)
}

// LogNotifier records notifications in the log instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "log_notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.logger.InfoContext(ctx, "notification dispatched",
		"channel", notification.Channel,
		"template", notification.Template,
		"recipient", notification.Recipient,
		"instance_id", notification.InstanceID,
		"step_id", notification.StepID,
	)

	return nil
}

// LogDocumentGenerator assigns a fresh document id and logs the request.
type LogDocumentGenerator struct {
	logger *slog.Logger
}

func NewLogDocumentGenerator(logger *slog.Logger) *LogDocumentGenerator {
	return &LogDocumentGenerator{logger: logger.With("module", "log_document_generator")}
}

func (g *LogDocumentGenerator) Generate(ctx context.Context, request DocumentRequest) (string, error) {
	documentID := uuid.NewString()

	g.logger.InfoContext(ctx, "document generated",
		"template", request.Template,
		"format", request.Format,
		"instance_id", request.InstanceID,
		"document_id", documentID,
	)

	return documentID, nil
}

// LogIntegrator acknowledges every call with 200 without leaving the process.
type LogIntegrator struct {
	logger *slog.Logger
}

func NewLogIntegrator(logger *slog.Logger) *LogIntegrator {
	return &LogIntegrator{logger: logger.With("module", "log_integrator")}
}

func (i *LogIntegrator) Call(ctx context.Context, request IntegrationRequest) (IntegrationResponse, error) {
	i.logger.InfoContext(ctx, "integration called",
		"kind", request.Kind,
		"method", request.Method,
		"target", request.Target,
		"instance_id", request.InstanceID,
	)

	return IntegrationResponse{StatusCode: 200, Body: map[string]any{}}, nil
}
