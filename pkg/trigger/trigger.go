// Package trigger starts workflow instances on behalf of a definition's triggers.
package trigger

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/services"
)

var (
	ErrTriggerNotFound = fmt.Errorf("%w: trigger not found", services.ErrNotFound)
	ErrTriggerInactive = fmt.Errorf("%w: trigger is not active", services.ErrConflict)
	ErrInvalidSecret   = errors.New("invalid trigger secret")
)

// Starter starts workflow instances.
type Starter interface {
	Start(ctx context.Context, req services.StartRequest) (*models.WorkflowInstance, error)
}

// Firing describes one activation of a trigger.
type Firing struct {
	DefinitionID string
	TriggerID    string
	Type         models.TriggerType
	StartedBy    string

	// Payload is exposed to the instance as trigger.payload.
	Payload map[string]any

	// Secret must match the trigger's config "secret" when one is configured.
	Secret string
}

type Dispatcher struct {
	definitions persistence.DefinitionRepository
	starter     Starter
	logger      *slog.Logger
	now         func() time.Time
}

func NewDispatcher(logger *slog.Logger, definitions persistence.DefinitionRepository, starter Starter) *Dispatcher {
	return &Dispatcher{
		definitions: definitions,
		starter:     starter,
		logger:      logger.With("module", "trigger"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Fire starts an instance of the definition if it owns an active trigger of the given
// id and type. The trigger's config "variables" seed the instance variables.
func (d *Dispatcher) Fire(ctx context.Context, firing Firing) (*models.WorkflowInstance, error) {
	definition, err := d.definitions.GetByID(ctx, firing.DefinitionID)
	if err != nil {
		return nil, err
	}

	trigger := findTrigger(definition, firing.TriggerID, firing.Type)
	if trigger == nil {
		return nil, fmt.Errorf("%w: %s trigger %s on definition %s", ErrTriggerNotFound, firing.Type, firing.TriggerID, firing.DefinitionID)
	}

	if !trigger.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrTriggerInactive, trigger.ID)
	}

	if secret, _ := trigger.Config["secret"].(string); secret != "" {
		if subtle.ConstantTimeCompare([]byte(secret), []byte(firing.Secret)) != 1 {
			return nil, ErrInvalidSecret
		}
	}

	fired := map[string]any{
		"type":      string(trigger.Type),
		"triggerId": trigger.ID,
		"firedAt":   d.now().Format(time.RFC3339),
	}

	if firing.Payload != nil {
		fired["payload"] = firing.Payload
	}

	variables := map[string]any{"trigger": fired}

	if extra, ok := trigger.Config["variables"].(map[string]any); ok {
		variables = models.MergeVariables(models.CopyVariables(extra), variables)
	}

	d.logger.InfoContext(ctx, "trigger fired", "definition_id", definition.ID, "trigger_id", trigger.ID, "type", trigger.Type)

	return d.starter.Start(ctx, services.StartRequest{
		DefinitionID: definition.ID,
		StartedBy:    firing.StartedBy,
		Variables:    variables,
	})
}

func findTrigger(definition *models.WorkflowDefinition, triggerID string, triggerType models.TriggerType) *models.WorkflowTrigger {
	for _, trigger := range definition.Triggers {
		if trigger.ID == triggerID && trigger.Type == triggerType {
			return trigger
		}
	}

	return nil
}
