package services

import (
	"context"
	"log/slog"

	"github.com/dukex/procflow/pkg/eventbus"
)

// emitter publishes domain events without letting delivery failures reach callers.
type emitter struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func (e *emitter) emit(ctx context.Context, key string, event eventbus.Event) {
	if e == nil || e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "key", key, "error", err)
	}
}
