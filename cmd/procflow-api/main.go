package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/procflow/pkg/cmd"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "procflow-api",
		Usage:                 "Define workflows and run instances with approval gates",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (memory://, file://<dir>, postgres://...)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for instance locks shared between replicas",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "templates-path",
				Usage:   "Directory of YAML workflow templates to register at startup",
				Sources: cli.EnvVars("TEMPLATES_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.BoolFlag{
				Name:    "scheduler",
				Usage:   "Start instances from SCHEDULED triggers",
				Value:   true,
				Sources: cli.EnvVars("SCHEDULER_ENABLED"),
			},
			&cli.BoolFlag{
				Name:    "http-integrations",
				Usage:   "Perform real HTTP requests for WEBHOOK and API_CALL steps",
				Sources: cli.EnvVars("HTTP_INTEGRATIONS_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Procflow API")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(context.Background())
				if err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			locker, err := cmd.NewLocker(ctx, logger, command.String("redis-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := locker.Close(); err != nil {
					logger.Error("Failed to close locker", "error", err)
				}
			}()

			tracer := otelhelper.NoopTracer()
			if command.Bool("otel") {
				tracer, err = otelhelper.NewTracer(ctx, "procflow-api")
				if err != nil {
					return err
				}
			}

			api, err := NewAPI(logger, persistence, eventBus, cmd.NewProcessor(logger, command.Bool("http-integrations")), locker, tracer)
			if err != nil {
				return err
			}

			if templatesPath := command.String("templates-path"); templatesPath != "" {
				err = api.LoadTemplates(ctx, templatesPath)
				if err != nil {
					return err
				}
			}

			var sched *scheduler.Scheduler

			if command.Bool("scheduler") {
				sched = scheduler.New(logger, persistence.DefinitionRepository(), api.engine)

				err = sched.Subscribe(eventBus)
				if err != nil {
					return err
				}

				err = eventBus.Subscribe(ctx)
				if err != nil {
					return err
				}
			}

			return serve(ctx, logger, api, sched, command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("Procflow API stopped", "error", err)
		os.Exit(1)
	}
}
