package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/deckflow/pkg/assembler"
	"github.com/dukex/deckflow/pkg/cmd"
	"github.com/dukex/deckflow/pkg/config"
	"github.com/dukex/deckflow/pkg/llm"
	"github.com/dukex/deckflow/pkg/log"
	"github.com/dukex/deckflow/pkg/metrics"
	"github.com/dukex/deckflow/pkg/otelhelper"
	"github.com/dukex/deckflow/pkg/retention"
	"github.com/dukex/deckflow/pkg/services"
	"github.com/dukex/deckflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 8000
	shutdownTimeout = 30 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  "deckflow-api",
		Usage:                 "Generate presentations from text over HTTP",
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
				Usage:   "Persistence URL (postgres://..., file://path)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "state-store-url",
				Usage:   "Workflow state store URL (memory, redis://...)",
				Value:   "memory",
				Sources: cli.EnvVars("STATE_STORE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka, nats)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "event-bus-url",
				Usage:   "Kafka brokers or NATS server URL",
				Sources: cli.EnvVars("EVENT_BUS_URL"),
			},
			&cli.StringFlag{
				Name:    "llm-provider",
				Usage:   "Chat model provider (openai, claude, ollama, none)",
				Value:   llm.ProviderNone,
				Sources: cli.EnvVars("LLM_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "llm-model",
				Usage:   "Chat model name",
				Sources: cli.EnvVars("LLM_MODEL"),
			},
			&cli.StringFlag{
				Name:    "llm-api-key",
				Usage:   "Chat model API key",
				Sources: cli.EnvVars("LLM_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "llm-base-url",
				Usage:   "Chat model endpoint override",
				Sources: cli.EnvVars("LLM_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "config-file",
				Aliases: []string{"c"},
				Usage:   "YAML settings file",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing Deckflow API")

	settings, err := config.Load(command.String("config-file"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer := otelhelper.NoopTracer()

	if command.Bool("otel-enabled") {
		var shutdown otelhelper.ShutdownFunc

		tracer, shutdown, err = otelhelper.NewTracer(ctx, "deckflow-api")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
			}
		}()
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	store, err := cmd.NewStateStore(ctx, logger, command.String("state-store-url"), settings.CacheTTL)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close state store", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("event-bus-url"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	audit := services.NewAudit(logger)
	if err := audit.Register(eventBus); err != nil {
		return err
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to generation events: %w", err)
	}

	generator, err := llm.NewGenerator(ctx, llm.ModelConfig{
		Provider: command.String("llm-provider"),
		Model:    command.String("llm-model"),
		APIKey:   command.String("llm-api-key"),
		BaseURL:  command.String("llm-base-url"),
		Timeout:  settings.StageTimeout,
	}, logger)
	if err != nil {
		return err
	}

	m := metrics.New()

	registry := cmd.NewRegistry(*settings, generator, assembler.Default(), persistence, logger)
	orchestrator := cmd.NewOrchestrator(*settings, registry, logger,
		workflow.WithStateStore(store),
		workflow.WithEventPublisher(eventBus),
		workflow.WithMetrics(m),
		workflow.WithTracer(tracer),
	)

	generation := services.NewGeneration(ctx, orchestrator, persistence, *settings, logger)

	purge, err := retention.NewJob(persistence, settings.RetentionSchedule, settings.Retention(), logger)
	if err != nil {
		return err
	}

	if err := purge.Start(ctx); err != nil {
		return err
	}

	defer purge.Stop(context.WithoutCancel(ctx))

	api := NewAPI(logger, generation, m, *settings)

	if err := api.Start(ctx, command.Int("port")); err != nil {
		logger.ErrorContext(ctx, "Deckflow API stopped with error", "error", err)

		return err
	}

	return nil
}
