package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/cli"
	apphttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(state *rootState) *cobra.Command {
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API, optionally with the recurring scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cli.SignalContext(cmd.Context(), state.logger)
			defer cancel()
			cmd.SetContext(ctx)
			return withApp(cmd, state, func(ctx context.Context, app *cli.App) error {
				return serve(ctx, app, withScheduler)
			})
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "scheduler", true, "run the recurring scheduler in this process")
	return cmd
}

func serve(ctx context.Context, app *cli.App, withScheduler bool) error {
	cfg := app.Config
	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Accounts:     app.Accounts,
		Transactions: app.Transactions,
		Engine:       app.Engine,
		Processor:    app.Processor,
		Ready:        app.Backend.Store.Ping,
		Logger:       app.Logger,
	}, apphttp.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info("Starting fintrack server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"scheduler", withScheduler)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.Logger.Info("Shutting down server", log.FieldOperation, log.OpShutdown)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if withScheduler {
		scheduler := services.NewScheduler(app.Processor, services.SchedulerConfig{
			Interval: cfg.RecurringInterval,
		})
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	app.Logger.Info("Server stopped gracefully")
	return nil
}
