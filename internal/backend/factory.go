package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fintrack/internal/events"
	"fintrack/internal/events/amqp"
	"fintrack/internal/events/kafka"
	"fintrack/internal/store"
	"fintrack/internal/store/bolt"
	"fintrack/internal/store/memory"
	"fintrack/internal/store/sqlstore"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend opens the configured store and publisher. A broker that
// cannot be reached degrades to a no-op publisher; a store that cannot be
// opened is fatal.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s, err := f.createStore(config)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("ping %s store: %w", config.Type, err)
	}

	publisher := f.createPublisher(config)

	return &Result{
		Store:     s,
		Publisher: publisher,
		Cleanup: func() error {
			return errors.Join(publisher.Close(), s.Close())
		},
	}, nil
}

func (f *DefaultFactory) createStore(config Config) (store.Store, error) {
	switch config.Type {
	case MemoryBackend:
		if config.SeedFile == "" {
			f.logger.Info("Initialized memory backend")
			return memory.New(), nil
		}
		s, err := memory.NewFromFile(config.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize memory store: %w", err)
		}
		f.logger.Info("Initialized memory backend", "seed_file", config.SeedFile)
		return s, nil

	case SQLiteBackend:
		s, err := sqlstore.OpenSQLite(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return s, nil

	case PostgresBackend:
		s, err := sqlstore.OpenPostgres(config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		f.logger.Info("Initialized postgres backend")
		return s, nil

	case BoltBackend:
		s, err := bolt.Open(config.BoltDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize bolt store: %w", err)
		}
		f.logger.Info("Initialized bolt backend", "db_path", config.BoltDBPath)
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createPublisher(config Config) events.Publisher {
	switch config.Broker {
	case AMQPBroker:
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
			return events.Nop{}
		}
		f.logger.Info("Initialized AMQP client",
			"exchange", config.AMQPExchange,
			"queue", config.AMQPQueue)
		return client

	case KafkaBroker:
		f.logger.Info("Initialized Kafka publisher",
			"brokers", config.KafkaBrokers,
			"topic", config.KafkaTopic)
		return kafka.NewPublisher(config.KafkaBrokers, config.KafkaTopic)

	default:
		return events.Nop{}
	}
}
