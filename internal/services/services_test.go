package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/events"
	"fintrack/internal/ledger"
	"fintrack/internal/store"
	"fintrack/internal/store/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store     *memory.Store
	engine    *ledger.Engine
	txs       *TransactionService
	processor *RecurringProcessor
	pub       *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	for id, balance := range map[string]string{"checking": "500", "savings": "0"} {
		if _, err := s.InsertAccount(ctx, core.Account{ID: id, Balance: decimal.RequireFromString(balance), Currency: "EUR"}); err != nil {
			t.Fatal(err)
		}
	}
	pub := &recordingPublisher{}
	engine := ledger.NewEngine(s, nil)
	txs := NewTransactionService(s, engine, pub)
	return &fixture{
		store:     s,
		engine:    engine,
		txs:       txs,
		processor: NewRecurringProcessor(s, txs, pub),
		pub:       pub,
	}
}

func (f *fixture) balance(t *testing.T, id string) string {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return a.Balance.StringFixed(2)
}

func monthlyRent(start core.Date) core.RecurringRule {
	return core.RecurringRule{
		ID:         "rent",
		Name:       "Rent",
		Type:       core.Expense,
		Amount:     decimal.NewFromInt(100),
		AccountID:  "checking",
		CategoryID: "housing",
		Frequency:  core.Monthly,
		StartDate:  start,
	}
}

func TestTransactionService_CreateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.txs.Create(ctx, core.Transaction{
		Type: core.Transfer, Amount: decimal.NewFromInt(50), AccountID: "checking", ToAccountID: "savings",
		Date: core.NewDate(2024, 3, 1),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if tx.ID == "" {
		t.Fatal("Create() did not assign an id")
	}
	if got := f.balance(t, "checking"); got != "450.00" {
		t.Errorf("checking = %s, want 450.00", got)
	}
	if got := f.balance(t, "savings"); got != "50.00" {
		t.Errorf("savings = %s, want 50.00", got)
	}

	if err := f.txs.Delete(ctx, tx.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := f.balance(t, "checking"); got != "500.00" {
		t.Errorf("checking after delete = %s, want 500.00", got)
	}
	if _, err := f.txs.Get(ctx, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() after delete = %v, want not found", err)
	}
	if err := f.txs.Delete(ctx, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second Delete() = %v, want not found", err)
	}

	want := []events.Type{events.TransactionCreated, events.TransactionDeleted}
	if got := f.pub.types(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("published %v, want %v", got, want)
	}
}

func TestTransactionService_CreateFailures(t *testing.T) {
	tests := []struct {
		name    string
		tx      core.Transaction
		wantErr error
	}{
		{"invalid type", core.Transaction{Type: "gift", Amount: decimal.NewFromInt(1), AccountID: "checking", CategoryID: "c", Date: core.NewDate(2024, 1, 1)}, core.ErrValidation},
		{"missing category", core.Transaction{Type: core.Expense, Amount: decimal.NewFromInt(1), AccountID: "checking", Date: core.NewDate(2024, 1, 1)}, core.ErrValidation},
		{"missing date", core.Transaction{Type: core.Expense, Amount: decimal.NewFromInt(1), AccountID: "checking", CategoryID: "c"}, core.ErrValidation},
		{"unknown account", core.Transaction{ID: "t-ghost", Type: core.Income, Amount: decimal.NewFromInt(1), AccountID: "ghost", CategoryID: "c", Date: core.NewDate(2024, 1, 1)}, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if _, err := f.txs.Create(ctx, tt.tx); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
			}
			list, _ := f.txs.List(ctx, store.TransactionFilter{})
			if len(list) != 0 {
				t.Errorf("%d transactions left behind", len(list))
			}
			if len(f.pub.types()) != 0 {
				t.Errorf("events published for failed create: %v", f.pub.types())
			}
		})
	}
}

func TestTransactionService_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	_, err := f.txs.Create(context.Background(), core.Transaction{
		Type: core.Income, Amount: decimal.NewFromInt(10), AccountID: "checking", CategoryID: "salary",
		Date: core.NewDate(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := f.balance(t, "checking"); got != "510.00" {
		t.Errorf("checking = %s, want 510.00", got)
	}
}

func TestProcessDue_MonthlyRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.processor.CreateRule(ctx, monthlyRent(core.NewDate(2024, 1, 1))); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	asOf := core.NewDate(2024, 1, 15)
	result, err := f.processor.ProcessDue(ctx, asOf)
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if len(result.Created) != 1 || len(result.Failures) != 0 {
		t.Fatalf("ProcessDue() = %+v, want one created", result)
	}
	tx := result.Created[0]
	if !tx.Date.Equal(core.NewDate(2024, 1, 1).Time) || tx.RecurringID != "rent" || !tx.IsAutoGenerated {
		t.Errorf("created transaction = %+v", tx)
	}
	if got := f.balance(t, "checking"); got != "400.00" {
		t.Errorf("checking = %s, want 400.00", got)
	}

	rule, _ := f.store.GetRule(ctx, "rent")
	if !rule.NextDate.Equal(core.NewDate(2024, 2, 1).Time) {
		t.Errorf("next_date = %s, want 2024-02-01", rule.NextDate)
	}
	if !rule.LastProcessed.Equal(asOf.Time) {
		t.Errorf("last_processed = %s, want %s", rule.LastProcessed, asOf)
	}

	// Same date again creates nothing.
	again, err := f.processor.ProcessDue(ctx, asOf)
	if err != nil {
		t.Fatalf("second ProcessDue() error = %v", err)
	}
	if len(again.Created) != 0 {
		t.Errorf("second ProcessDue() created %d transactions", len(again.Created))
	}
	if got := f.balance(t, "checking"); got != "400.00" {
		t.Errorf("checking after second run = %s, want 400.00", got)
	}
}

func TestProcessDue_ExpiredRuleIsDeactivated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := monthlyRent(core.NewDate(2023, 12, 1))
	rule.EndDate = core.NewDate(2024, 1, 1)
	rule.NextDate = core.NewDate(2024, 2, 1)
	rule.IsActive = true
	if _, err := f.store.InsertRule(ctx, rule); err != nil {
		t.Fatal(err)
	}

	result, err := f.processor.ProcessDue(ctx, core.NewDate(2024, 2, 15))
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if len(result.Created) != 0 {
		t.Errorf("expired rule created %d transactions", len(result.Created))
	}
	if len(result.Deactivated) != 1 || result.Deactivated[0] != "rent" {
		t.Errorf("Deactivated = %v, want [rent]", result.Deactivated)
	}
	got, _ := f.store.GetRule(ctx, "rent")
	if got.IsActive {
		t.Error("expired rule still active")
	}
	if types := f.pub.types(); len(types) != 1 || types[0] != events.RuleDeactivated {
		t.Errorf("published %v, want [rule.deactivated]", types)
	}
	if bal := f.balance(t, "checking"); bal != "500.00" {
		t.Errorf("checking = %s, want 500.00", bal)
	}
}

func TestProcessDue_SkipsNotDueAndPaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	future := monthlyRent(core.NewDate(2024, 6, 1))
	future.ID = "future"
	paused := monthlyRent(core.NewDate(2024, 1, 1))
	paused.ID = "paused"
	for _, r := range []core.RecurringRule{future, paused} {
		if _, err := f.processor.CreateRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.processor.PauseRule(ctx, "paused"); err != nil {
		t.Fatalf("PauseRule() error = %v", err)
	}

	result, err := f.processor.ProcessDue(ctx, core.NewDate(2024, 3, 1))
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if len(result.Created) != 0 {
		t.Errorf("created %d transactions, want 0", len(result.Created))
	}

	resumed, err := f.processor.ResumeRule(ctx, "paused")
	if err != nil || !resumed.IsActive {
		t.Fatalf("ResumeRule() = %+v, %v", resumed, err)
	}
	result, _ = f.processor.ProcessDue(ctx, core.NewDate(2024, 3, 1))
	if len(result.Created) != 1 || result.Created[0].RecurringID != "paused" {
		t.Errorf("after resume created %+v", result.Created)
	}
}

func TestProcessDue_CatchUpAdvancesOnePeriodPerCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.processor.CreateRule(ctx, monthlyRent(core.NewDate(2024, 1, 31))); err != nil {
		t.Fatal(err)
	}

	asOf := core.NewDate(2024, 4, 30)
	wantDates := []core.Date{core.NewDate(2024, 1, 31), core.NewDate(2024, 2, 29), core.NewDate(2024, 3, 29), core.NewDate(2024, 4, 29)}
	for i, want := range wantDates {
		result, err := f.processor.ProcessDue(ctx, asOf)
		if err != nil {
			t.Fatalf("call %d: ProcessDue() error = %v", i, err)
		}
		if len(result.Created) != 1 || !result.Created[0].Date.Equal(want.Time) {
			t.Fatalf("call %d: created %+v, want one dated %s", i, result.Created, want)
		}
	}
	result, _ := f.processor.ProcessDue(ctx, asOf)
	if len(result.Created) != 0 {
		t.Errorf("caught-up rule created %d more", len(result.Created))
	}
	if got := f.balance(t, "checking"); got != "100.00" {
		t.Errorf("checking = %s, want 100.00", got)
	}
}

func TestProcessDue_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	broken := monthlyRent(core.NewDate(2024, 1, 1))
	broken.ID, broken.AccountID = "broken", "closed-account"
	good := monthlyRent(core.NewDate(2024, 1, 1))
	good.ID = "good"
	for _, r := range []core.RecurringRule{broken, good} {
		if _, err := f.processor.CreateRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	result, err := f.processor.ProcessDue(ctx, core.NewDate(2024, 1, 1))
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if len(result.Created) != 1 || result.Created[0].RecurringID != "good" {
		t.Errorf("Created = %+v, want the good rule only", result.Created)
	}
	if len(result.Failures) != 1 || result.Failures[0].RuleID != "broken" {
		t.Fatalf("Failures = %+v, want broken", result.Failures)
	}
	failure := result.Failures[0].Err
	if !errors.Is(failure, core.ErrProcessing) || !errors.Is(failure, core.ErrNotFound) {
		t.Errorf("failure error = %v, want processing wrapping not found", failure)
	}

	// The failed period is released, so the rule is still due.
	rule, _ := f.store.GetRule(ctx, "broken")
	if !rule.NextDate.Equal(core.NewDate(2024, 1, 1).Time) || !rule.LastProcessed.IsEmpty() {
		t.Errorf("broken rule = %+v, want claim released", rule)
	}
	txs, _ := f.txs.List(ctx, store.TransactionFilter{RecurringID: "broken"})
	if len(txs) != 0 {
		t.Errorf("broken rule left %d transactions", len(txs))
	}
}

func TestProcessDue_ConcurrentCallsMaterializeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.processor.CreateRule(ctx, monthlyRent(core.NewDate(2024, 1, 1))); err != nil {
		t.Fatal(err)
	}
	// A second processor over the same store shares no in-process locks.
	other := NewRecurringProcessor(f.store, f.txs, f.pub)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := f.processor
			if i%2 == 1 {
				p = other
			}
			if _, err := p.ProcessDue(ctx, core.NewDate(2024, 1, 15)); err != nil {
				t.Errorf("ProcessDue() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	txs, _ := f.txs.List(ctx, store.TransactionFilter{RecurringID: "rent"})
	if len(txs) != 1 {
		t.Errorf("materialized %d transactions, want 1", len(txs))
	}
	if got := f.balance(t, "checking"); got != "400.00" {
		t.Errorf("checking = %s, want 400.00", got)
	}
}

func TestProcessSingle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := monthlyRent(core.NewDate(2024, 1, 1))
	rule.Frequency = core.Weekly
	if _, err := f.processor.CreateRule(ctx, rule); err != nil {
		t.Fatal(err)
	}

	t.Run("explicit date bypasses due check", func(t *testing.T) {
		tx, err := f.processor.ProcessSingle(ctx, "rent", core.NewDate(2023, 6, 10))
		if err != nil {
			t.Fatalf("ProcessSingle() error = %v", err)
		}
		if !tx.Date.Equal(core.NewDate(2023, 6, 10).Time) {
			t.Errorf("date = %s, want 2023-06-10", tx.Date)
		}
		got, _ := f.store.GetRule(ctx, "rent")
		if !got.NextDate.Equal(core.NewDate(2023, 6, 17).Time) || !got.LastProcessed.Equal(core.NewDate(2023, 6, 10).Time) {
			t.Errorf("rule = %+v", got)
		}
	})

	t.Run("zero date means today", func(t *testing.T) {
		f.processor.today = func() core.Date { return core.NewDate(2024, 7, 4) }
		tx, err := f.processor.ProcessSingle(ctx, "rent", core.Date{})
		if err != nil {
			t.Fatalf("ProcessSingle() error = %v", err)
		}
		if !tx.Date.Equal(core.NewDate(2024, 7, 4).Time) {
			t.Errorf("date = %s, want 2024-07-04", tx.Date)
		}
		got, _ := f.store.GetRule(ctx, "rent")
		if !got.NextDate.Equal(core.NewDate(2024, 7, 11).Time) {
			t.Errorf("next_date = %s, want 2024-07-11", got.NextDate)
		}
	})

	t.Run("unknown rule", func(t *testing.T) {
		if _, err := f.processor.ProcessSingle(ctx, "ghost", core.NewDate(2024, 1, 1)); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("ProcessSingle(ghost) error = %v, want not found", err)
		}
	})

	if got := f.balance(t, "checking"); got != "300.00" {
		t.Errorf("checking = %s, want 300.00", got)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	f := newFixture(t)
	rule := monthlyRent(core.NewDate(2024, 1, 1))
	rule.Frequency = "hourly"
	if _, err := f.processor.CreateRule(context.Background(), rule); !errors.Is(err, core.ErrValidation) {
		t.Errorf("CreateRule() error = %v, want validation", err)
	}
}
