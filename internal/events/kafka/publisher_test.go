package kafka

import (
	"testing"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/events"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name    string
		ev      events.Event
		wantKey string
	}{
		{
			name: "transaction event keyed by transaction",
			ev: events.NewTransactionEvent(events.TransactionCreated, core.Transaction{
				ID: "t1", RecurringID: "r1", Type: core.Income, Amount: decimal.NewFromInt(5), AccountID: "A",
				CategoryID: "salary", Date: core.NewDate(2024, 1, 1),
			}),
			wantKey: "t1",
		},
		{
			name: "rule event keyed by rule",
			ev: events.NewRuleDeactivatedEvent(core.RecurringRule{
				ID: "r1", Type: core.Expense, Amount: decimal.NewFromInt(5), AccountID: "A",
			}),
			wantKey: "r1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := message(tt.ev)
			if err != nil {
				t.Fatalf("message() error = %v", err)
			}
			if string(msg.Key) != tt.wantKey {
				t.Errorf("key = %q, want %q", msg.Key, tt.wantKey)
			}
			if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(tt.ev.Type) {
				t.Errorf("headers = %+v", msg.Headers)
			}
			got, err := events.FromJSON(msg.Value)
			if err != nil {
				t.Fatalf("FromJSON() error = %v", err)
			}
			if got.Type != tt.ev.Type || got.Key() != tt.wantKey || !got.Amount.Equal(tt.ev.Amount) {
				t.Errorf("decoded = %+v", got)
			}
		})
	}
}
