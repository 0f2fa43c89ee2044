package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/events"
	"fintrack/internal/ledger"
	"fintrack/internal/store"
)

// TransactionService orchestrates the transaction record, its ledger postings
// and the event published for it.
type TransactionService struct {
	store     store.Transactions
	engine    *ledger.Engine
	publisher events.Publisher
}

func NewTransactionService(s store.Transactions, engine *ledger.Engine, publisher events.Publisher) *TransactionService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &TransactionService{
		store:     s,
		engine:    engine,
		publisher: publisher,
	}
}

// Create stores tx and posts it. If posting fails the record is removed again
// so no transaction exists without its entries.
func (s *TransactionService) Create(ctx context.Context, tx core.Transaction) (*core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.store.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	if _, err := s.engine.CreateEntries(ctx, tx); err != nil {
		if delErr := s.store.DeleteTransaction(ctx, tx.ID); delErr != nil {
			slog.ErrorContext(ctx, "Failed to remove unposted transaction",
				"transaction_id", tx.ID,
				"error", delErr)
		}
		return nil, err
	}

	slog.InfoContext(ctx, "Transaction created",
		"transaction_id", tx.ID,
		"type", tx.Type,
		"amount", tx.Amount.StringFixed(2),
		"account_id", tx.AccountID,
		"recurring_id", tx.RecurringID)

	s.publish(ctx, events.NewTransactionEvent(events.TransactionCreated, tx))
	return &tx, nil
}

// Delete reverses the postings of the transaction, then removes the record.
func (s *TransactionService) Delete(ctx context.Context, id string) error {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := s.engine.ReverseEntries(ctx, *tx); err != nil {
		return err
	}
	if err := s.store.DeleteTransaction(ctx, id); err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("delete transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction deleted", "transaction_id", id)
	s.publish(ctx, events.NewTransactionEvent(events.TransactionDeleted, *tx))
	return nil
}

func (s *TransactionService) Get(ctx context.Context, id string) (*core.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func (s *TransactionService) List(ctx context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	return s.store.ListTransactions(ctx, f)
}

// publish logs instead of failing: the ledger is already committed.
func (s *TransactionService) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"type", ev.Type,
			"key", ev.Key(),
			"error", err)
	}
}

// Close closes the event publisher.
func (s *TransactionService) Close() error {
	if err := s.publisher.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
