package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2024, 2, 29)
	b, err := d.MarshalJSON()
	if err != nil || string(b) != `"2024-02-29"` {
		t.Fatalf("marshal = %s, %v", b, err)
	}
	var zero Date
	if b, _ := zero.MarshalJSON(); string(b) != "null" {
		t.Fatalf("zero date marshal = %s, want null", b)
	}
	var got Date
	if err := got.UnmarshalJSON([]byte(`"2024-02-29"`)); err != nil || !got.Equal(d.Time) {
		t.Fatalf("unmarshal = %v, %v", got, err)
	}
	if err := got.UnmarshalJSON([]byte(`"29/02/2024"`)); err == nil {
		t.Fatal("expected error for bad layout")
	}
}

func TestDateOfTruncates(t *testing.T) {
	got := DateOf(time.Date(2024, 3, 5, 23, 59, 0, 0, time.UTC))
	if !got.Equal(NewDate(2024, 3, 5).Time) {
		t.Fatalf("DateOf() = %v", got)
	}
}

func TestTransactionValidate(t *testing.T) {
	amt := decimal.NewFromInt(10)
	day := NewDate(2024, 1, 1)

	tests := []struct {
		name    string
		tx      Transaction
		wantErr bool
	}{
		{"expense ok", Transaction{Type: Expense, Amount: amt, AccountID: "a", CategoryID: "food", Date: day}, false},
		{"income ok", Transaction{Type: Income, Amount: amt, AccountID: "a", CategoryID: "salary", Date: day}, false},
		{"transfer ok", Transaction{Type: Transfer, Amount: amt, AccountID: "a", ToAccountID: "b", Date: day}, false},
		{"unknown type", Transaction{Type: "refund", Amount: amt, AccountID: "a", CategoryID: "c", Date: day}, true},
		{"zero amount", Transaction{Type: Expense, Amount: decimal.Zero, AccountID: "a", CategoryID: "c", Date: day}, true},
		{"negative amount", Transaction{Type: Expense, Amount: amt.Neg(), AccountID: "a", CategoryID: "c", Date: day}, true},
		{"missing account", Transaction{Type: Expense, Amount: amt, CategoryID: "c", Date: day}, true},
		{"expense without category", Transaction{Type: Expense, Amount: amt, AccountID: "a", Date: day}, true},
		{"expense with destination", Transaction{Type: Expense, Amount: amt, AccountID: "a", ToAccountID: "b", CategoryID: "c", Date: day}, true},
		{"transfer without destination", Transaction{Type: Transfer, Amount: amt, AccountID: "a", Date: day}, true},
		{"transfer with category", Transaction{Type: Transfer, Amount: amt, AccountID: "a", ToAccountID: "b", CategoryID: "c", Date: day}, true},
		{"transfer to self", Transaction{Type: Transfer, Amount: amt, AccountID: "a", ToAccountID: "a", Date: day}, true},
		{"zero date", Transaction{Type: Expense, Amount: amt, AccountID: "a", CategoryID: "c"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRecurringRuleValidate(t *testing.T) {
	good := RecurringRule{
		Name:       "Rent",
		Type:       Expense,
		Amount:     decimal.NewFromInt(900),
		AccountID:  "checking",
		CategoryID: "housing",
		Frequency:  Monthly,
		StartDate:  NewDate(2024, 1, 1),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := map[string]func(r *RecurringRule){
		"empty name":        func(r *RecurringRule) { r.Name = " " },
		"unknown frequency": func(r *RecurringRule) { r.Frequency = "hourly" },
		"zero start":        func(r *RecurringRule) { r.StartDate = Date{} },
		"end before start":  func(r *RecurringRule) { r.EndDate = NewDate(2023, 12, 31) },
		"missing category":  func(r *RecurringRule) { r.CategoryID = "" },
	}
	for name, mutate := range bads {
		t.Run(name, func(t *testing.T) {
			r := good
			mutate(&r)
			if err := r.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() = %v, want validation error", err)
			}
		})
	}
}

func TestRecurringRuleDueAndExpired(t *testing.T) {
	r := RecurringRule{IsActive: true, NextDate: NewDate(2024, 1, 10)}

	if r.IsDue(NewDate(2024, 1, 9)) {
		t.Error("rule due before next_date")
	}
	if !r.IsDue(NewDate(2024, 1, 10)) {
		t.Error("rule not due on next_date")
	}
	r.IsActive = false
	if r.IsDue(NewDate(2024, 2, 1)) {
		t.Error("inactive rule reported due")
	}

	r.EndDate = NewDate(2024, 1, 1)
	if !r.Expired() {
		t.Error("rule with end_date before next_date not expired")
	}
	r.EndDate = NewDate(2024, 1, 10)
	if r.Expired() {
		t.Error("rule ending on next_date reported expired")
	}
}

func TestErrorKinds(t *testing.T) {
	inner := errors.New("disk full")
	perr := &ProcessingError{RuleID: "r1", Err: inner}
	if !errors.Is(perr, ErrProcessing) || !errors.Is(perr, inner) {
		t.Fatalf("ProcessingError does not match its sentinel and cause")
	}
	if !errors.Is(NewNotFoundError("account", "x"), ErrNotFound) {
		t.Fatal("NotFoundError does not match ErrNotFound")
	}
	var verr *ValidationError
	if !errors.As(NewValidationError("amount", "bad"), &verr) || verr.Field != "amount" {
		t.Fatal("errors.As failed for ValidationError")
	}
}
