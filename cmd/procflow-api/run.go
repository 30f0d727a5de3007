package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/scheduler"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// serve runs the HTTP server and, when sched is not nil, the cron scheduler until ctx
// is cancelled or one of them fails.
func serve(ctx context.Context, logger *slog.Logger, api *API, sched *scheduler.Scheduler, port int) error {
	app := api.App()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gCtx, "API server listening", "port", port)

		return api.Start(app, port)
	})

	if sched != nil {
		g.Go(func() error {
			return sched.Start(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()

		logger.Info("Shutting down Procflow API")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if sched != nil {
			err := sched.Stop(shutdownCtx)
			if err != nil {
				logger.Error("Failed to stop scheduler", "error", err)
			}
		}

		return app.ShutdownWithContext(shutdownCtx)
	})

	return g.Wait()
}
