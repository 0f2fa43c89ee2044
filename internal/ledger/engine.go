// Package ledger is the double-entry engine. It turns transactions into
// balanced debit/credit pairs, keeps cached account balances in step with
// them, and audits both.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// Store is the slice of the record store the engine writes through.
type Store interface {
	store.Accounts
	store.Entries
}

// Engine posts and reverses transactions. Balance-touching calls on the
// same account are serialized by a per-account mutex.
type Engine struct {
	store  Store
	logger *slog.Logger

	muMap map[string]*sync.Mutex
	mapMu sync.Mutex
}

func NewEngine(s Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  s,
		logger: logger,
		muMap:  make(map[string]*sync.Mutex),
	}
}

func (e *Engine) accountLock(accountID string) *sync.Mutex {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()
	mu, ok := e.muMap[accountID]
	if !ok {
		mu = &sync.Mutex{}
		e.muMap[accountID] = mu
	}
	return mu
}

// lockAccounts locks ids in sorted order and returns the matching unlock.
func (e *Engine) lockAccounts(ids []string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var locks []*sync.Mutex
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		mu := e.accountLock(id)
		mu.Lock()
		locks = append(locks, mu)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// CreateEntries writes the debit/credit pair of tx and adjusts the balances
// of its accounts in one atomic store call. Invalid transactions are rejected
// before any write.
func (e *Engine) CreateEntries(ctx context.Context, tx core.Transaction) ([]core.LedgerEntry, error) {
	if tx.ID == "" {
		return nil, core.NewValidationError("id", "transaction id is required")
	}
	posting, err := core.BuildPosting(tx)
	if err != nil {
		return nil, err
	}
	for i := range posting.Entries {
		posting.Entries[i].ID = uuid.New().String()
	}

	unlock := e.lockAccounts(posting.AccountIDs())
	defer unlock()

	if err := e.store.ApplyPostings(ctx, posting.Entries, posting.Deltas); err != nil {
		return nil, fmt.Errorf("post transaction %s: %w", tx.ID, err)
	}

	e.logger.DebugContext(ctx, "Ledger entries created",
		"transaction_id", tx.ID,
		"type", tx.Type,
		"amount", tx.Amount.StringFixed(2),
		"account_id", tx.AccountID)
	return posting.Entries, nil
}

// ReverseEntries removes the entries of tx and restores the balances they
// changed. Reversing a transaction with no remaining entries is a no-op.
func (e *Engine) ReverseEntries(ctx context.Context, tx core.Transaction) error {
	posting, err := core.BuildPosting(tx)
	if err != nil {
		return err
	}

	unlock := e.lockAccounts(posting.AccountIDs())
	defer unlock()

	removed, err := e.store.RevertPostings(ctx, tx.ID, posting.Reverse())
	if err != nil {
		return fmt.Errorf("reverse transaction %s: %w", tx.ID, err)
	}
	if removed == 0 {
		e.logger.WarnContext(ctx, "No ledger entries to reverse", "transaction_id", tx.ID)
		return nil
	}
	e.logger.DebugContext(ctx, "Ledger entries reversed", "transaction_id", tx.ID, "entries", removed)
	return nil
}

// ValidateBalance reports whether the entries of transactionID balance within
// core.BalanceTolerance. A transaction without entries sums to zero and passes.
func (e *Engine) ValidateBalance(ctx context.Context, transactionID string) (bool, error) {
	err := e.CheckBalance(ctx, transactionID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, core.ErrConsistency) {
		return false, nil
	}
	return false, err
}

// CheckBalance is ValidateBalance returning a *core.ConsistencyError instead of false.
func (e *Engine) CheckBalance(ctx context.Context, transactionID string) error {
	entries, err := e.store.ListEntries(ctx, store.EntryFilter{TransactionID: transactionID})
	if err != nil {
		return fmt.Errorf("list entries of %s: %w", transactionID, err)
	}
	debit, credit := core.SumEntries(entries)
	if debit.Sub(credit).Abs().GreaterThanOrEqual(core.BalanceTolerance) {
		return &core.ConsistencyError{TransactionID: transactionID, Debit: debit, Credit: credit}
	}
	return nil
}

// GetAccountBalanceFromLedger derives a balance as the sum of debit minus
// credit over every entry of accountID.
func (e *Engine) GetAccountBalanceFromLedger(ctx context.Context, accountID string) (decimal.Decimal, error) {
	entries, err := e.store.ListEntries(ctx, store.EntryFilter{AccountID: accountID})
	if err != nil {
		return decimal.Zero, fmt.Errorf("list entries of account %s: %w", accountID, err)
	}
	balance := decimal.Zero
	for _, entry := range entries {
		balance = balance.Add(entry.Net())
	}
	return balance, nil
}

// Drift compares the cached balance of accountID with its ledger-derived one.
// An opening balance set outside the ledger shows up as drift.
func (e *Engine) Drift(ctx context.Context, accountID string) (core.BalanceReport, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return core.BalanceReport{}, err
	}
	ledger, err := e.GetAccountBalanceFromLedger(ctx, accountID)
	if err != nil {
		return core.BalanceReport{}, err
	}
	report := core.BalanceReport{AccountID: accountID, Cached: account.Balance, Ledger: ledger}
	if !report.InSync() {
		e.logger.WarnContext(ctx, "Account balance drift detected",
			"account_id", accountID,
			"cached", account.Balance.StringFixed(2),
			"ledger", ledger.StringFixed(2))
	}
	return report, nil
}

// Entries returns the ledger entries posted for transactionID.
func (e *Engine) Entries(ctx context.Context, transactionID string) ([]core.LedgerEntry, error) {
	entries, err := e.store.ListEntries(ctx, store.EntryFilter{TransactionID: transactionID})
	if err != nil {
		return nil, fmt.Errorf("list entries of %s: %w", transactionID, err)
	}
	return entries, nil
}
