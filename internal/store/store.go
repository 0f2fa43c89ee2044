// Package store defines the record store the accounting core is written against.
//
// Every backend (memory, sqlstore, bolt) implements Store. Missing records are
// reported as *core.NotFoundError; balance deltas and their ledger entries are
// written through ApplyPostings/RevertPostings, which each backend executes
// atomically.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// ErrConflict is returned by ClaimRule when the rule's next_date no longer
// matches the caller's expectation, and by the memory and bolt stores when an
// insert reuses an existing ID.
var ErrConflict = errors.New("record changed concurrently")

type (
	TransactionFilter struct {
		// AccountID matches either the source or the destination account.
		AccountID   string
		RecurringID string
		From        core.Date
		To          core.Date
	}

	EntryFilter struct {
		TransactionID string
		AccountID     string
	}

	RuleFilter struct {
		ActiveOnly bool
	}

	// AccountUpdate carries the mutable account fields. Balance is engine-owned
	// and only changes through ApplyPostings/RevertPostings.
	AccountUpdate struct {
		Name     *string
		Currency *string
	}

	RuleUpdate struct {
		Name          *string
		Amount        *decimal.Decimal
		EndDate       *core.Date
		NextDate      *core.Date
		LastProcessed *core.Date
		IsActive      *bool
	}
)

type Accounts interface {
	GetAccount(ctx context.Context, id string) (*core.Account, error)
	ListAccounts(ctx context.Context) ([]core.Account, error)
	InsertAccount(ctx context.Context, a core.Account) (string, error)
	UpdateAccount(ctx context.Context, id string, u AccountUpdate) error
	DeleteAccount(ctx context.Context, id string) error
}

// Transactions are immutable once inserted; there is no update.
type Transactions interface {
	GetTransaction(ctx context.Context, id string) (*core.Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)
	InsertTransaction(ctx context.Context, tx core.Transaction) (string, error)
	DeleteTransaction(ctx context.Context, id string) error
}

type Entries interface {
	ListEntries(ctx context.Context, f EntryFilter) ([]core.LedgerEntry, error)
	// ApplyPostings inserts entries and adds every delta to its account balance
	// in one atomic step. A missing account aborts the whole call.
	ApplyPostings(ctx context.Context, entries []core.LedgerEntry, deltas []core.BalanceDelta) error
	// RevertPostings deletes the entries of transactionID and applies deltas in
	// one atomic step. When no entries exist nothing is applied and 0 is returned.
	RevertPostings(ctx context.Context, transactionID string, deltas []core.BalanceDelta) (int, error)
}

type Rules interface {
	GetRule(ctx context.Context, id string) (*core.RecurringRule, error)
	ListRules(ctx context.Context, f RuleFilter) ([]core.RecurringRule, error)
	InsertRule(ctx context.Context, r core.RecurringRule) (string, error)
	UpdateRule(ctx context.Context, id string, u RuleUpdate) error
	DeleteRule(ctx context.Context, id string) error
	// ClaimRule applies u only if the stored next_date still equals expectedNext.
	ClaimRule(ctx context.Context, id string, expectedNext core.Date, u RuleUpdate) error
}

// Store is the full record store.
type Store interface {
	Accounts
	Transactions
	Entries
	Rules
	Ping(ctx context.Context) error
	Close() error
}

// Apply copies the set fields of u onto r.
func (u RuleUpdate) Apply(r *core.RecurringRule) {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Amount != nil {
		r.Amount = *u.Amount
	}
	if u.EndDate != nil {
		r.EndDate = *u.EndDate
	}
	if u.NextDate != nil {
		r.NextDate = *u.NextDate
	}
	if u.LastProcessed != nil {
		r.LastProcessed = *u.LastProcessed
	}
	if u.IsActive != nil {
		r.IsActive = *u.IsActive
	}
}

// Apply copies the set fields of u onto a.
func (u AccountUpdate) Apply(a *core.Account) {
	if u.Name != nil {
		a.Name = *u.Name
	}
	if u.Currency != nil {
		a.Currency = *u.Currency
	}
}

// Match reports whether tx passes the filter.
func (f TransactionFilter) Match(tx core.Transaction) bool {
	if f.AccountID != "" && tx.AccountID != f.AccountID && tx.ToAccountID != f.AccountID {
		return false
	}
	if f.RecurringID != "" && tx.RecurringID != f.RecurringID {
		return false
	}
	if !f.From.IsEmpty() && tx.Date.Before(f.From.Time) {
		return false
	}
	if !f.To.IsEmpty() && tx.Date.After(f.To.Time) {
		return false
	}
	return true
}

// Match reports whether e passes the filter.
func (f EntryFilter) Match(e core.LedgerEntry) bool {
	if f.TransactionID != "" && e.TransactionID != f.TransactionID {
		return false
	}
	if f.AccountID != "" && e.AccountID != f.AccountID {
		return false
	}
	return true
}

// Ptr returns a pointer to v, for building partial updates.
func Ptr[T any](v T) *T {
	return &v
}
