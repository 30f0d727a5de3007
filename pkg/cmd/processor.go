package cmd

import (
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/steps"
)

// NewProcessor builds the step processor. With httpIntegrations set, WEBHOOK and
// API_CALL steps perform real HTTP requests; otherwise they are logged only.
func NewProcessor(logger *slog.Logger, httpIntegrations bool) *steps.Processor {
	if !httpIntegrations {
		return steps.NewProcessor(logger)
	}

	integrator := steps.NewHTTPIntegrator(logger, steps.RetryConfig{Attempts: 3, Delay: 500 * time.Millisecond}, 30*time.Second)

	return steps.NewProcessor(logger, steps.WithIntegrator(integrator))
}
