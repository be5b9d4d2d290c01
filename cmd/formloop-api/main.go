package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/formloop/formloop/pkg/cmd"
	"github.com/formloop/formloop/pkg/eventbus"
	"github.com/formloop/formloop/pkg/log"
	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/orchestrator"
	"github.com/formloop/formloop/pkg/otelhelper"
	"github.com/formloop/formloop/pkg/schema"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "formloop-api",
		Usage:                 "Run the human-in-the-loop workflow API server",
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
				Usage:   "Storage URL (redis://... or a file path)",
				Value:   "./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "schema-path",
				Usage:   "Path to the field-collection schema JSON file",
				Sources: cli.EnvVars("SCHEMA_PATH"),
			},
			&cli.DurationFlag{
				Name:    "review-timeout",
				Usage:   "How long a workflow waits for a human decision",
				Value:   orchestrator.DefaultReviewTimeout,
				Sources: cli.EnvVars("REVIEW_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing FormLoop API")

	fields, err := loadFields(command.String("schema-path"))
	if err != nil {
		return err
	}

	store, err := cmd.NewPersistence(command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	eventbus.RegisterLoggingListener(eventBus, log.WithModule("events"))

	if err := eventBus.Subscribe(ctx); err != nil {
		return err
	}

	api := NewAPI(logger, store, eventBus, fields, orchestrator.Config{
		ReviewTimeout: command.Duration("review-timeout"),
	})

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "formloop-api")
		if err != nil {
			return err
		}

		api.WithTracer(tracer)
	}

	if err := api.Orchestrator().Start(ctx); err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := api.Orchestrator().Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "Failed to shut down orchestrator", "error", err)
		}
	}()

	if err := api.Start(command.Int("port")); err != nil {
		logger.ErrorContext(ctx, "Failed to start API server", "error", err)
	}

	return nil
}

func loadFields(schemaPath string) ([]*models.FieldSpec, error) {
	if schemaPath == "" {
		return schema.Default(), nil
	}

	return schema.Load(schemaPath)
}
