// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// Run exercises s against the store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("postings", func(t *testing.T) { testPostings(t, newStore(t)) })
	t.Run("concurrent postings", func(t *testing.T) { testConcurrentPostings(t, newStore(t)) })
	t.Run("rules", func(t *testing.T) { testRules(t, newStore(t)) })
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()

	id, err := s.InsertAccount(ctx, core.Account{ID: "A", Name: "Checking", Currency: "EUR", Balance: dec("500")})
	if err != nil || id != "A" {
		t.Fatalf("InsertAccount() = %q, %v", id, err)
	}
	generated, err := s.InsertAccount(ctx, core.Account{Name: "Savings", Currency: "EUR"})
	if err != nil || generated == "" {
		t.Fatalf("InsertAccount() without id = %q, %v", generated, err)
	}

	got, err := s.GetAccount(ctx, "A")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.Name != "Checking" || !got.Balance.Equal(dec("500")) || got.Currency != "EUR" {
		t.Errorf("GetAccount() = %+v", got)
	}

	if err := s.UpdateAccount(ctx, "A", store.AccountUpdate{Name: store.Ptr("Main")}); err != nil {
		t.Fatalf("UpdateAccount() error = %v", err)
	}
	got, _ = s.GetAccount(ctx, "A")
	if got.Name != "Main" || !got.Balance.Equal(dec("500")) {
		t.Errorf("after update = %+v", got)
	}

	all, err := s.ListAccounts(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListAccounts() = %v, %v", all, err)
	}

	if err := s.DeleteAccount(ctx, generated); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if _, err := s.GetAccount(ctx, generated); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetAccount() after delete = %v, want not found", err)
	}
	if err := s.UpdateAccount(ctx, "missing", store.AccountUpdate{}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("UpdateAccount(missing) = %v, want not found", err)
	}
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := core.Transaction{Type: core.Expense, Amount: dec("10"), AccountID: "A", CategoryID: "food"}

	jan := base
	jan.ID, jan.Date = "t1", core.NewDate(2024, 1, 5)
	feb := base
	feb.ID, feb.Date, feb.RecurringID, feb.IsAutoGenerated = "t2", core.NewDate(2024, 2, 5), "r1", true
	xfer := core.Transaction{ID: "t3", Type: core.Transfer, Amount: dec("5"), AccountID: "B", ToAccountID: "A", Date: core.NewDate(2024, 3, 1)}

	for _, tx := range []core.Transaction{jan, feb, xfer} {
		if _, err := s.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("InsertTransaction(%s) error = %v", tx.ID, err)
		}
	}

	got, err := s.GetTransaction(ctx, "t2")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if got.RecurringID != "r1" || !got.IsAutoGenerated || !got.Date.Equal(feb.Date.Time) || !got.Amount.Equal(dec("10")) {
		t.Errorf("GetTransaction() = %+v", got)
	}

	tests := []struct {
		name   string
		filter store.TransactionFilter
		want   int
	}{
		{"all", store.TransactionFilter{}, 3},
		{"by account includes destination", store.TransactionFilter{AccountID: "A"}, 3},
		{"by source account", store.TransactionFilter{AccountID: "B"}, 1},
		{"by rule", store.TransactionFilter{RecurringID: "r1"}, 1},
		{"date range", store.TransactionFilter{From: core.NewDate(2024, 2, 1), To: core.NewDate(2024, 2, 28)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListTransactions(ctx, tt.filter)
			if err != nil || len(list) != tt.want {
				t.Errorf("ListTransactions() = %d items, %v; want %d", len(list), err, tt.want)
			}
		})
	}

	if err := s.DeleteTransaction(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}
	if _, err := s.GetTransaction(ctx, "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetTransaction() after delete = %v, want not found", err)
	}
	if err := s.DeleteTransaction(ctx, "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second DeleteTransaction() = %v, want not found", err)
	}
}

func testPostings(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.InsertAccount(ctx, core.Account{ID: "A", Balance: dec("400")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertAccount(ctx, core.Account{ID: "B"}); err != nil {
		t.Fatal(err)
	}

	day := core.NewDate(2024, 1, 1)
	entries := []core.LedgerEntry{
		{ID: "e1", TransactionID: "t1", AccountID: "B", Debit: dec("50"), Credit: decimal.Zero, Date: day},
		{ID: "e2", TransactionID: "t1", AccountID: "A", Debit: decimal.Zero, Credit: dec("50"), Date: day},
	}
	deltas := []core.BalanceDelta{{AccountID: "A", Amount: dec("-50")}, {AccountID: "B", Amount: dec("50")}}
	if err := s.ApplyPostings(ctx, entries, deltas); err != nil {
		t.Fatalf("ApplyPostings() error = %v", err)
	}

	assertBalance(t, s, "A", "350")
	assertBalance(t, s, "B", "50")

	list, err := s.ListEntries(ctx, store.EntryFilter{TransactionID: "t1"})
	if err != nil || len(list) != 2 {
		t.Fatalf("ListEntries() = %v, %v", list, err)
	}
	byAccount, _ := s.ListEntries(ctx, store.EntryFilter{AccountID: "B"})
	if len(byAccount) != 1 || !byAccount[0].Debit.Equal(dec("50")) || !byAccount[0].Credit.IsZero() {
		t.Errorf("ListEntries(B) = %+v", byAccount)
	}

	missing := []core.BalanceDelta{{AccountID: "A", Amount: dec("-1")}, {AccountID: "ghost", Amount: dec("1")}}
	ghostEntries := []core.LedgerEntry{{ID: "e3", TransactionID: "t2", AccountID: "ghost", Debit: dec("1"), Credit: decimal.Zero, Date: day}}
	if err := s.ApplyPostings(ctx, ghostEntries, missing); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("ApplyPostings() with missing account = %v, want not found", err)
	}
	assertBalance(t, s, "A", "350")
	if left, _ := s.ListEntries(ctx, store.EntryFilter{TransactionID: "t2"}); len(left) != 0 {
		t.Errorf("failed ApplyPostings left %d entries", len(left))
	}

	reverse := []core.BalanceDelta{{AccountID: "A", Amount: dec("50")}, {AccountID: "B", Amount: dec("-50")}}
	n, err := s.RevertPostings(ctx, "t1", reverse)
	if err != nil || n != 2 {
		t.Fatalf("RevertPostings() = %d, %v", n, err)
	}
	assertBalance(t, s, "A", "400")
	assertBalance(t, s, "B", "0")

	n, err = s.RevertPostings(ctx, "t1", reverse)
	if err != nil || n != 0 {
		t.Fatalf("second RevertPostings() = %d, %v; want 0, nil", n, err)
	}
	assertBalance(t, s, "A", "400")
}

func testConcurrentPostings(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.InsertAccount(ctx, core.Account{ID: "A"}); err != nil {
		t.Fatal(err)
	}

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txID := "t" + decimal.NewFromInt(int64(i)).String()
			entries := []core.LedgerEntry{
				{ID: txID + "-d", TransactionID: txID, AccountID: "A", Debit: dec("1"), Credit: decimal.Zero, Date: core.NewDate(2024, 1, 1)},
				{ID: txID + "-c", TransactionID: txID, AccountID: "salary", Debit: decimal.Zero, Credit: dec("1"), Date: core.NewDate(2024, 1, 1)},
			}
			errs <- s.ApplyPostings(ctx, entries, []core.BalanceDelta{{AccountID: "A", Amount: dec("1")}})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ApplyPostings() error = %v", err)
		}
	}
	assertBalance(t, s, "A", "20")
}

func testRules(t *testing.T, s store.Store) {
	ctx := context.Background()
	rule := core.RecurringRule{
		ID:         "r1",
		Name:       "Rent",
		Type:       core.Expense,
		Amount:     dec("900"),
		AccountID:  "A",
		CategoryID: "housing",
		Frequency:  core.Monthly,
		StartDate:  core.NewDate(2024, 1, 1),
		NextDate:   core.NewDate(2024, 1, 1),
		IsActive:   true,
	}
	if _, err := s.InsertRule(ctx, rule); err != nil {
		t.Fatalf("InsertRule() error = %v", err)
	}
	paused := rule
	paused.ID, paused.IsActive = "r2", false
	if _, err := s.InsertRule(ctx, paused); err != nil {
		t.Fatalf("InsertRule() error = %v", err)
	}

	active, err := s.ListRules(ctx, store.RuleFilter{ActiveOnly: true})
	if err != nil || len(active) != 1 || active[0].ID != "r1" {
		t.Fatalf("ListRules(active) = %+v, %v", active, err)
	}
	all, _ := s.ListRules(ctx, store.RuleFilter{})
	if len(all) != 2 {
		t.Fatalf("ListRules() = %d, want 2", len(all))
	}

	got, err := s.GetRule(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if !got.EndDate.IsEmpty() || !got.LastProcessed.IsEmpty() || got.Frequency != core.Monthly {
		t.Errorf("GetRule() = %+v", got)
	}

	claim := store.RuleUpdate{NextDate: store.Ptr(core.NewDate(2024, 2, 1)), LastProcessed: store.Ptr(core.NewDate(2024, 1, 15))}
	if err := s.ClaimRule(ctx, "r1", core.NewDate(2024, 1, 1), claim); err != nil {
		t.Fatalf("ClaimRule() error = %v", err)
	}
	if err := s.ClaimRule(ctx, "r1", core.NewDate(2024, 1, 1), claim); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale ClaimRule() = %v, want ErrConflict", err)
	}
	got, _ = s.GetRule(ctx, "r1")
	if !got.NextDate.Equal(core.NewDate(2024, 2, 1).Time) || !got.LastProcessed.Equal(core.NewDate(2024, 1, 15).Time) {
		t.Errorf("after claim = %+v", got)
	}

	if err := s.UpdateRule(ctx, "r1", store.RuleUpdate{IsActive: store.Ptr(false)}); err != nil {
		t.Fatalf("UpdateRule() error = %v", err)
	}
	got, _ = s.GetRule(ctx, "r1")
	if got.IsActive {
		t.Error("rule still active after update")
	}

	if err := s.DeleteRule(ctx, "r2"); err != nil {
		t.Fatalf("DeleteRule() error = %v", err)
	}
	if _, err := s.GetRule(ctx, "r2"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetRule() after delete = %v, want not found", err)
	}
	if err := s.ClaimRule(ctx, "r2", core.Date{}, claim); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("ClaimRule(missing) = %v, want not found", err)
	}
}

func assertBalance(t *testing.T, s store.Store, id, want string) {
	t.Helper()
	a, err := s.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount(%s) error = %v", id, err)
	}
	if !a.Balance.Equal(dec(want)) {
		t.Errorf("balance of %s = %s, want %s", id, a.Balance, want)
	}
}
