package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/devsecflow/secpipe/pkg/log"
)

func scheduleCommand() *cli.Command {
	flags := append(commonFlags(), &cli.StringFlag{
		Name:    "cron",
		Usage:   "Cron expression for recurring pipeline runs",
		Value:   "0 2 * * *",
		Sources: cli.EnvVars("SECPIPE_CRON"),
	})

	return &cli.Command{
		Name:  "schedule",
		Usage: "Run the pipeline on a recurring schedule",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule(nil, "schedule")

			scheduleCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scheduler := cron.New()

			_, err := scheduler.AddFunc(command.String("cron"), func() {
				run, runErr := executePipeline(scheduleCtx, command, logger)
				if runErr != nil {
					logger.Error("Scheduled run failed", "error", runErr)

					return
				}

				logger.Info("Scheduled run finished", "run_id", run.ID, "outcome", run.Outcome)
			})
			if err != nil {
				return err
			}

			logger.InfoContext(scheduleCtx, "Scheduler started", "cron", command.String("cron"))
			scheduler.Start()

			<-scheduleCtx.Done()

			<-scheduler.Stop().Done()
			logger.Info("Scheduler stopped")

			return nil
		},
	}
}
