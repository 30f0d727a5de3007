// Package scheduler starts instances of active definitions whose SCHEDULED triggers
// carry a cron expression.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/trigger"
	"github.com/robfig/cron/v3"
)

// StartedBy is recorded as the starter of scheduled instances.
const StartedBy = "scheduler"

var ErrCronRequired = errors.New("schedule trigger cron expression is required")

type entry struct {
	id   cron.EntryID
	spec string
}

// Scheduler keeps one cron entry per scheduled trigger of every active definition.
type Scheduler struct {
	definitions persistence.DefinitionRepository
	dispatcher  *trigger.Dispatcher
	cron        *cron.Cron
	logger      *slog.Logger

	mu sync.Mutex
	// entries maps definition id to its trigger entries, keyed by trigger id.
	entries map[string]map[string]entry
}

func New(logger *slog.Logger, definitions persistence.DefinitionRepository, starter trigger.Starter) *Scheduler {
	schedulerLogger := logger.With("module", "scheduler")
	runnerLogger := cronLogger{logger: schedulerLogger.With("component", "cron")}

	return &Scheduler{
		definitions: definitions,
		dispatcher:  trigger.NewDispatcher(logger, definitions, starter),
		cron: cron.New(
			cron.WithLogger(runnerLogger),
			cron.WithChain(
				cron.SkipIfStillRunning(runnerLogger),
				cron.Recover(runnerLogger),
			),
		),
		logger:  schedulerLogger,
		entries: make(map[string]map[string]entry),
	}
}

// ValidateCron checks a standard five-field cron expression.
func ValidateCron(expr string) error {
	if expr == "" {
		return ErrCronRequired
	}

	_, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

// Start loads every active definition and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	err := s.Sync(ctx)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "starting scheduler", "entries", s.EntryCount())
	s.cron.Start()

	return nil
}

// Stop stops the cron runner and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "stopping scheduler")

	done := s.cron.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe re-syncs a definition's entries whenever its lifecycle changes.
func (s *Scheduler) Subscribe(subscriber eventbus.EventSubscriber) error {
	eventTypes := []events.EventType{
		events.DefinitionCreatedEvent,
		events.DefinitionUpdatedEvent,
		events.DefinitionActivatedEvent,
		events.DefinitionDeactivatedEvent,
		events.DefinitionDeletedEvent,
		events.DefinitionClonedEvent,
	}

	for _, eventType := range eventTypes {
		err := subscriber.Handle(eventType, s.handleDefinitionEvent)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}

	return nil
}

func (s *Scheduler) handleDefinitionEvent(ctx context.Context, event any) error {
	ref, ok := event.(interface{ Definition() events.DefinitionRef })
	if !ok {
		return nil
	}

	return s.SyncDefinition(ctx, ref.Definition().DefinitionID)
}

// Sync reconciles the cron entries with every stored definition.
func (s *Scheduler) Sync(ctx context.Context) error {
	active := true

	definitions, err := s.definitions.List(ctx, persistence.DefinitionFilter{IsActive: &active})
	if err != nil {
		return fmt.Errorf("failed to list definitions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(definitions))

	for _, definition := range definitions {
		seen[definition.ID] = true
		s.apply(ctx, definition.ID, definition)
	}

	for _, id := range slices.Collect(maps.Keys(s.entries)) {
		if !seen[id] {
			s.apply(ctx, id, nil)
		}
	}

	return nil
}

// SyncDefinition reconciles the cron entries of one definition.
func (s *Scheduler) SyncDefinition(ctx context.Context, definitionID string) error {
	definition, err := s.definitions.GetByID(ctx, definitionID)
	if err != nil && !persistence.IsNotFound(err) {
		return fmt.Errorf("failed to load definition %s: %w", definitionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.apply(ctx, definitionID, definition)

	return nil
}

// EntryCount returns the number of scheduled triggers.
func (s *Scheduler) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, triggers := range s.entries {
		count += len(triggers)
	}

	return count
}

// apply makes the entries of definitionID match definition. A nil or inactive
// definition loses all its entries. Callers hold s.mu.
func (s *Scheduler) apply(ctx context.Context, definitionID string, definition *models.WorkflowDefinition) {
	wanted := scheduledTriggers(definition)
	current := s.entries[definitionID]

	for triggerID, existing := range current {
		if spec, ok := wanted[triggerID]; ok && spec == existing.spec {
			continue
		}

		s.cron.Remove(existing.id)
		delete(current, triggerID)

		s.logger.InfoContext(ctx, "removed schedule", "definition_id", definitionID, "trigger_id", triggerID)
	}

	for triggerID, spec := range wanted {
		if _, ok := current[triggerID]; ok {
			continue
		}

		err := ValidateCron(spec)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping schedule", "definition_id", definitionID, "trigger_id", triggerID, "error", err)

			continue
		}

		id, err := s.cron.AddFunc(spec, s.job(definitionID, triggerID))
		if err != nil {
			s.logger.WarnContext(ctx, "failed to add cron job", "definition_id", definitionID, "trigger_id", triggerID, "error", err)

			continue
		}

		if current == nil {
			current = make(map[string]entry)
			s.entries[definitionID] = current
		}

		current[triggerID] = entry{id: id, spec: spec}

		s.logger.InfoContext(ctx, "scheduled definition", "definition_id", definitionID, "trigger_id", triggerID, "cron", spec)
	}

	if len(current) == 0 {
		delete(s.entries, definitionID)
	}
}

func (s *Scheduler) job(definitionID, triggerID string) func() {
	return func() {
		ctx := context.Background()

		err := s.Fire(ctx, definitionID, triggerID)
		if err != nil {
			s.logger.ErrorContext(ctx, "scheduled start failed", "definition_id", definitionID, "trigger_id", triggerID, "error", err)
		}
	}
}

// Fire starts one instance as the scheduled trigger would.
func (s *Scheduler) Fire(ctx context.Context, definitionID, triggerID string) error {
	s.logger.InfoContext(ctx, "cron job triggered", "definition_id", definitionID, "trigger_id", triggerID)

	instance, err := s.dispatcher.Fire(ctx, trigger.Firing{
		DefinitionID: definitionID,
		TriggerID:    triggerID,
		Type:         models.TriggerTypeScheduled,
		StartedBy:    StartedBy,
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "scheduled instance started", "definition_id", definitionID, "instance_id", instance.ID, "status", instance.Status)

	return nil
}

// scheduledTriggers returns trigger id to cron spec for the active SCHEDULED triggers
// of an active definition.
func scheduledTriggers(definition *models.WorkflowDefinition) map[string]string {
	wanted := make(map[string]string)

	if definition == nil || !definition.IsActive {
		return wanted
	}

	for _, trigger := range definition.Triggers {
		if trigger.Type != models.TriggerTypeScheduled || !trigger.IsActive {
			continue
		}

		spec, _ := trigger.Config["cron"].(string)
		wanted[trigger.ID] = spec
	}

	return wanted
}
