package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/procflow/pkg/lock"
)

// NewLocker returns Redis-backed instance locks when redisURL is set, process-local ones otherwise.
func NewLocker(ctx context.Context, logger *slog.Logger, redisURL string) (lock.Locker, error) {
	if redisURL == "" {
		logger.InfoContext(ctx, "using process-local instance locks")

		return lock.NewMemoryLocker(), nil
	}

	locker, err := lock.NewRedisLocker(ctx, logger, redisURL, 0)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "using redis instance locks")

	return locker, nil
}
