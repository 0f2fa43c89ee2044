package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/store"
	"fintrack/internal/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fintrack.bolt"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTestStore(t) })
}

// Transaction ids that prefix one another must not share entries.
func TestRevertPostingsPrefixIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertAccount(ctx, core.Account{ID: "A"}); err != nil {
		t.Fatal(err)
	}

	day := core.NewDate(2024, 1, 1)
	post := func(txID string) {
		entries := []core.LedgerEntry{
			{TransactionID: txID, AccountID: "A", Debit: decimal.NewFromInt(1), Credit: decimal.Zero, Date: day},
			{TransactionID: txID, AccountID: "salary", Debit: decimal.Zero, Credit: decimal.NewFromInt(1), Date: day},
		}
		if err := s.ApplyPostings(ctx, entries, []core.BalanceDelta{{AccountID: "A", Amount: decimal.NewFromInt(1)}}); err != nil {
			t.Fatalf("ApplyPostings(%s) error = %v", txID, err)
		}
	}
	post("t1")
	post("t10")

	n, err := s.RevertPostings(ctx, "t1", []core.BalanceDelta{{AccountID: "A", Amount: decimal.NewFromInt(-1)}})
	if err != nil || n != 2 {
		t.Fatalf("RevertPostings() = %d, %v; want 2", n, err)
	}
	left, _ := s.ListEntries(ctx, store.EntryFilter{TransactionID: "t10"})
	if len(left) != 2 {
		t.Errorf("entries of t10 = %d, want 2", len(left))
	}
	for _, e := range left {
		if e.ID == "" {
			t.Error("entry stored without id")
		}
	}
}
