// Package events carries ledger notifications to a message broker. Publishing
// is best effort: callers log a failed Publish and carry on.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

type Type string

const (
	TransactionCreated Type = "transaction.created"
	TransactionDeleted Type = "transaction.deleted"
	RuleDeactivated    Type = "rule.deactivated"
)

// Event is the JSON message published for every ledger change.
type Event struct {
	Type          Type                 `json:"type"`
	TransactionID string               `json:"transaction_id,omitempty"`
	RuleID        string               `json:"rule_id,omitempty"`
	AccountID     string               `json:"account_id,omitempty"`
	ToAccountID   string               `json:"to_account_id,omitempty"`
	TxType        core.TransactionType `json:"transaction_type,omitempty"`
	Amount        decimal.Decimal      `json:"amount"`
	Date          core.Date            `json:"date"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

func NewTransactionEvent(t Type, tx core.Transaction) Event {
	return Event{
		Type:          t,
		TransactionID: tx.ID,
		RuleID:        tx.RecurringID,
		AccountID:     tx.AccountID,
		ToAccountID:   tx.ToAccountID,
		TxType:        tx.Type,
		Amount:        tx.Amount,
		Date:          tx.Date,
		OccurredAt:    time.Now().UTC(),
	}
}

func NewRuleDeactivatedEvent(r core.RecurringRule) Event {
	return Event{
		Type:       RuleDeactivated,
		RuleID:     r.ID,
		AccountID:  r.AccountID,
		TxType:     r.Type,
		Amount:     r.Amount,
		Date:       r.NextDate,
		OccurredAt: time.Now().UTC(),
	}
}

// Key is the partition/routing key of the event.
func (e Event) Key() string {
	if e.TransactionID != "" {
		return e.TransactionID
	}
	return e.RuleID
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func FromJSON(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Nop discards every event. It backs EVENTS_BROKER=none.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() error { return nil }
