// Package backend assembles the record store and event publisher selected by
// configuration.
package backend

import (
	"context"

	"fintrack/internal/events"
	"fintrack/internal/store"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result contains the opened store, the event publisher and their cleanup.
type Result struct {
	Store     store.Store
	Publisher events.Publisher
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string
	DatabaseURL  string
	BoltDBPath   string

	// Memory backend specific
	SeedFile string

	Broker       BrokerType
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	KafkaBrokers []string
	KafkaTopic   string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	BoltBackend     BackendType = "bolt"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend, BoltBackend:
		return true
	default:
		return false
	}
}

// BrokerType selects where ledger events are published.
type BrokerType string

const (
	NoBroker    BrokerType = "none"
	AMQPBroker  BrokerType = "amqp"
	KafkaBroker BrokerType = "kafka"
)

func (b BrokerType) IsValid() bool {
	switch b {
	case NoBroker, AMQPBroker, KafkaBroker, "":
		return true
	default:
		return false
	}
}
