// Command recurring-worker runs the recurring scheduler without the HTTP API.
package main

import (
	"context"
	"os"

	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		log.New(log.DefaultConfig()).Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg)
	logger.Info("Starting recurring-worker", log.FieldOperation, log.OpStartup)

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Failed to close backend", "error", err)
		}
	}()

	scheduler := services.NewScheduler(app.Processor, services.SchedulerConfig{
		Interval: cfg.RecurringInterval,
	})
	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringInterval,
		"backend", cfg.DataBackend,
		"broker", cfg.EventsBroker)

	if err := scheduler.Run(ctx); err != nil {
		logger.Error("Recurring scheduler stopped with error", "error", err)
		return
	}
	logger.Info("Recurring-worker shutdown complete", log.FieldOperation, log.OpShutdown)
}
