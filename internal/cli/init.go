// Package cli provides the bootstrap shared by cmd/fintrack and
// cmd/recurring-worker: env loading, config, logging, the service graph and
// signal handling.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fintrack/internal/backend"
	"fintrack/internal/config"
	"fintrack/internal/events"
	"fintrack/internal/events/amqp"
	"fintrack/internal/events/kafka"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile(filenames ...string) {
	_ = godotenv.Load(filenames...)
}

// LoadAndValidateConfig loads configuration from the environment and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupLogger builds the root logger from cfg and installs it as the slog default.
func SetupLogger(cfg *config.Config) *log.Logger {
	logger := log.New(log.Config{
		Level:     cfg.SlogLevel(),
		Format:    cfg.LogFormat,
		Component: log.ComponentApp,
		Output:    os.Stderr,
	})
	log.SetDefault(logger)
	return logger
}

// App is the service graph wired over one backend.
type App struct {
	Config       *config.Config
	Logger       *log.Logger
	Backend      *backend.Result
	Engine       *ledger.Engine
	Accounts     *services.AccountService
	Transactions *services.TransactionService
	Processor    *services.RecurringProcessor
}

// NewApp opens the configured backend and wires the services on top of it.
func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Slog()).CreateBackend(ctx, backendConfig)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", cfg.DataBackend, err)
	}

	engine := ledger.NewEngine(result.Store, logger.WithComponent(log.ComponentLedger).Slog())
	transactions := services.NewTransactionService(result.Store, engine, result.Publisher)

	logger.Info("Backend ready",
		"backend", cfg.DataBackend,
		"broker", cfg.EventsBroker)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Backend:      result,
		Engine:       engine,
		Accounts:     services.NewAccountService(result.Store, engine),
		Transactions: transactions,
		Processor:    services.NewRecurringProcessor(result.Store, transactions, result.Publisher),
	}, nil
}

// Close releases the publisher and the store.
func (a *App) Close() error {
	return a.Backend.Cleanup()
}

// EventConsumer reads ledger events back from the configured broker.
type EventConsumer interface {
	Consume(ctx context.Context, handler func(events.Event) error) error
	Close() error
}

// NewEventConsumer connects to the broker named by cfg.EventsBroker.
func NewEventConsumer(cfg *config.Config, groupID string) (EventConsumer, error) {
	switch cfg.EventsBroker {
	case string(backend.AMQPBroker):
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return nil, fmt.Errorf("connect to amqp: %w", err)
		}
		return client, nil
	case string(backend.KafkaBroker):
		return kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, groupID), nil
	default:
		return nil, errors.New("no events broker configured: set EVENTS_BROKER to amqp or kafka")
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
