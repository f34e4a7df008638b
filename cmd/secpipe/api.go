package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/devsecflow/secpipe/pkg/cmd"
	"github.com/devsecflow/secpipe/pkg/log"
	"github.com/devsecflow/secpipe/pkg/web"
)

const defaultAPIPort = 8180

func apiCommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Serve the run history and version API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to serve the API on",
				Value:   defaultAPIPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL holding run history",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule(nil, "api")

			serveCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			persist, err := cmd.NewPersistence(serveCtx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if closeErr := persist.Close(context.WithoutCancel(serveCtx)); closeErr != nil {
					logger.ErrorContext(serveCtx, "Failed to close persistence", "error", closeErr)
				}
			}()

			app := web.NewApp(persist)

			go func() {
				<-serveCtx.Done()

				if shutdownErr := app.Shutdown(); shutdownErr != nil {
					logger.Error("Failed to shut down API server", "error", shutdownErr)
				}
			}()

			logger.InfoContext(serveCtx, "Serving API", "port", command.Int("port"))

			return app.Listen(fmt.Sprintf(":%d", command.Int("port")))
		},
	}
}
