package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/devsecflow/secpipe/pkg/artifact"
	"github.com/devsecflow/secpipe/pkg/cmd"
	"github.com/devsecflow/secpipe/pkg/config"
	"github.com/devsecflow/secpipe/pkg/confluence"
	"github.com/devsecflow/secpipe/pkg/correlate"
	"github.com/devsecflow/secpipe/pkg/deploy"
	"github.com/devsecflow/secpipe/pkg/events"
	"github.com/devsecflow/secpipe/pkg/invoker"
	"github.com/devsecflow/secpipe/pkg/log"
	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/notify"
	"github.com/devsecflow/secpipe/pkg/otelhelper"
	"github.com/devsecflow/secpipe/pkg/pipeline"
	"github.com/devsecflow/secpipe/pkg/report"
	"github.com/devsecflow/secpipe/pkg/stages"
)

func toggleFlagName(toggle string) string {
	return strings.ReplaceAll(toggle, "_", "-")
}

func commonFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the pipeline configuration file",
			Value:   "secpipe.yaml",
			Sources: cli.EnvVars("SECPIPE_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Override the configured persistence URL",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OTLP traces for pipeline runs",
			Sources: cli.EnvVars("SECPIPE_TRACING"),
		},
	}

	for _, toggle := range config.ToggleNames() {
		flags = append(flags, &cli.BoolFlag{
			Name:    toggleFlagName(toggle),
			Usage:   "Enable the " + toggle + " stage",
			Value:   true,
			Sources: cli.EnvVars("SECPIPE_" + strings.ToUpper(toggle)),
		})
	}

	return flags
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Execute one pipeline run",
		Flags:   commonFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule(nil, "secpipe")

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			run, err := executePipeline(runCtx, command, logger)
			if err != nil {
				return err
			}

			if run.HardFailed() {
				return cli.Exit(fmt.Sprintf("pipeline run %s hard failed", run.ID), 1)
			}

			return nil
		},
	}
}

func loadConfig(command *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return nil, err
	}

	if command.IsSet("database-url") {
		cfg.DatabaseURL = command.String("database-url")
	}

	overridden := false

	for _, toggle := range config.ToggleNames() {
		if command.IsSet(toggleFlagName(toggle)) {
			cfg.Toggles[toggle] = command.Bool(toggleFlagName(toggle))
			overridden = true
		}
	}

	if overridden {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func executePipeline(ctx context.Context, command *cli.Command, logger *slog.Logger) (run *models.PipelineRun, err error) {
	cfg, err := loadConfig(command)
	if err != nil {
		return nil, err
	}

	if command.Bool("tracing") {
		if _, err := otelhelper.NewTracer(ctx, "secpipe"); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	persist, err := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	defer func() {
		if closeErr := persist.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", closeErr)
		}
	}()

	store, err := artifact.NewStore(cfg.ArtifactDir)
	if err != nil {
		return nil, err
	}

	bus := cmd.NewEventBus(logger)

	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", closeErr)
		}
	}()

	_ = bus.Handle(events.StageFinishedEvent, func(ctx context.Context, event interface{}) error {
		if finished, ok := event.(*events.StageFinished); ok {
			logger.InfoContext(ctx, "Stage finished",
				"stage", finished.Stage, "outcome", finished.Outcome, "duration_ms", finished.DurationMs)
		}

		return nil
	})

	if err := bus.Subscribe(ctx); err != nil {
		return nil, err
	}

	deps := &stages.Dependencies{
		Config:     cfg,
		Invoker:    invoker.New(logger),
		Store:      store,
		Correlator: correlate.NewCorrelator(persist, cfg.ReportBaseName, logger),
		Generator:  report.NewGenerator(store, cfg.ReportBaseName, logger),
		Confluence: confluence.NewClient(cfg.Confluence, logger),
		Mailer:     notify.NewMailer(cfg.SMTP, logger),
		Guard:      deploy.NewGuard(logger),
		Logger:     logger,
	}

	executor := pipeline.NewExecutor(logger, bus, persist)
	if err := executor.Configure(stages.Build(deps), cfg.Toggles); err != nil {
		return nil, err
	}

	return executor.Run(ctx, store)
}
