// Package main provides the Procflow API server implementation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/lock"
	"github.com/dukex/procflow/pkg/metrics"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/steps"
	"github.com/dukex/procflow/pkg/trigger"
	"github.com/dukex/procflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *prometheus.Registry
	validate    *validator.Validate

	definitions *services.Definitions
	engine      *services.Engine
	templates   *services.Templates
	stats       *services.Statistics
	triggers    *trigger.Dispatcher
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	processor *steps.Processor,
	locker lock.Locker,
	tracer trace.Tracer,
) (*API, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engineMetrics, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}

	definitions := services.NewDefinitions(logger, persistence, eventBus)

	templates, err := services.NewTemplates(logger, persistence, definitions)
	if err != nil {
		return nil, err
	}

	engine := services.NewEngine(logger, persistence, processor,
		services.WithLocker(locker),
		services.WithEventPublisher(eventBus),
		services.WithMetrics(engineMetrics),
		services.WithTracer(tracer),
	)

	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		definitions: definitions,
		engine:      engine,
		templates:   templates,
		stats:       services.NewStatistics(persistence),
		triggers:    trigger.NewDispatcher(logger, persistence.DefinitionRepository(), engine),
	}, nil
}

// LoadTemplates registers the YAML templates found under dir.
func (a *API) LoadTemplates(ctx context.Context, dir string) error {
	loaded, err := services.LoadTemplateDirectory(dir)
	if err != nil {
		return fmt.Errorf("failed to load templates from %s: %w", dir, err)
	}

	err = a.templates.Register(ctx, loaded)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "custom templates loaded", "path", dir, "count", len(loaded))

	return nil
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.definitions, a.engine, a.templates, a.stats, a.triggers, a.validate)

	app := fiber.New()
	app.Use(recoverer.New())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Procflow API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	handlers.Register(app)

	return app
}

func (a *API) Start(app *fiber.App, port int) error {
	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
