// Package memory is the in-process record store, optionally seeded from YAML.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// Store keeps every record in maps guarded by a single mutex, so postings
// and balance adjustments are applied in one critical section.
type Store struct {
	mu           sync.Mutex
	accounts     map[string]core.Account
	transactions map[string]core.Transaction
	entries      []core.LedgerEntry
	rules        map[string]core.RecurringRule
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:     make(map[string]core.Account),
		transactions: make(map[string]core.Transaction),
		rules:        make(map[string]core.RecurringRule),
	}
}

// Seed is the YAML layout accepted by NewFromFile.
type Seed struct {
	Accounts []SeedAccount `yaml:"accounts"`
	Rules    []SeedRule    `yaml:"rules"`
}

type SeedAccount struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`
	Balance  string `yaml:"balance"`
}

type SeedRule struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Amount      string `yaml:"amount"`
	AccountID   string `yaml:"account_id"`
	ToAccountID string `yaml:"to_account_id"`
	CategoryID  string `yaml:"category_id"`
	Frequency   string `yaml:"frequency"`
	StartDate   string `yaml:"start_date"`
	EndDate     string `yaml:"end_date"`
	Paused      bool   `yaml:"paused"`
}

// NewFromFile builds a store seeded with the accounts and rules of a YAML file.
// A missing file yields an empty store.
func NewFromFile(path string) (*Store, error) {
	s := New()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if err := s.Load(seed); err != nil {
		return nil, fmt.Errorf("load seed file %s: %w", path, err)
	}
	return s, nil
}

// Load inserts the seed records. Opening balances are taken as given.
func (s *Store) Load(seed Seed) error {
	ctx := context.Background()
	for _, sa := range seed.Accounts {
		balance := decimal.Zero
		if sa.Balance != "" {
			b, err := decimal.NewFromString(sa.Balance)
			if err != nil {
				return fmt.Errorf("account %s balance: %w", sa.ID, err)
			}
			balance = b
		}
		if _, err := s.InsertAccount(ctx, core.Account{ID: sa.ID, Name: sa.Name, Currency: sa.Currency, Balance: balance}); err != nil {
			return err
		}
	}
	for _, sr := range seed.Rules {
		amount, err := core.ParseAmount(sr.Amount)
		if err != nil {
			return fmt.Errorf("rule %s amount: %w", sr.ID, err)
		}
		start, err := core.ParseDate(sr.StartDate)
		if err != nil {
			return fmt.Errorf("rule %s start_date: %w", sr.ID, err)
		}
		end, err := core.ParseDate(sr.EndDate)
		if err != nil {
			return fmt.Errorf("rule %s end_date: %w", sr.ID, err)
		}
		rule := core.RecurringRule{
			ID:          sr.ID,
			Name:        sr.Name,
			Type:        core.TransactionType(sr.Type),
			Amount:      amount,
			AccountID:   sr.AccountID,
			ToAccountID: sr.ToAccountID,
			CategoryID:  sr.CategoryID,
			Frequency:   core.Frequency(sr.Frequency),
			StartDate:   start,
			EndDate:     end,
			NextDate:    start,
			IsActive:    !sr.Paused,
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", sr.ID, err)
		}
		if _, err := s.InsertRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Accounts

func (s *Store) GetAccount(_ context.Context, id string) (*core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, core.NewNotFoundError("account", id)
	}
	return &a, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) InsertAccount(_ context.Context, a core.Account) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if _, exists := s.accounts[a.ID]; exists {
		return "", fmt.Errorf("account %q already exists: %w", a.ID, store.ErrConflict)
	}
	s.accounts[a.ID] = a
	return a.ID, nil
}

func (s *Store) UpdateAccount(_ context.Context, id string, u store.AccountUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.NewNotFoundError("account", id)
	}
	u.Apply(&a)
	s.accounts[id] = a
	return nil
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return core.NewNotFoundError("account", id)
	}
	delete(s.accounts, id)
	return nil
}

// Transactions

func (s *Store) GetTransaction(_ context.Context, id string) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, core.NewNotFoundError("transaction", id)
	}
	return &tx, nil
}

func (s *Store) ListTransactions(_ context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.transactions {
		if f.Match(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date.Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date.Time)
	})
	return out, nil
}

func (s *Store) InsertTransaction(_ context.Context, tx core.Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if _, exists := s.transactions[tx.ID]; exists {
		return "", fmt.Errorf("transaction %q already exists: %w", tx.ID, store.ErrConflict)
	}
	s.transactions[tx.ID] = tx
	return tx.ID, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return core.NewNotFoundError("transaction", id)
	}
	delete(s.transactions, id)
	return nil
}

// Ledger entries

func (s *Store) ListEntries(_ context.Context, f store.EntryFilter) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ApplyPostings(_ context.Context, entries []core.LedgerEntry, deltas []core.BalanceDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Check every account before mutating anything.
	for _, d := range deltas {
		if _, ok := s.accounts[d.AccountID]; !ok {
			return core.NewNotFoundError("account", d.AccountID)
		}
	}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		s.entries = append(s.entries, e)
	}
	s.applyDeltas(deltas)
	return nil
}

func (s *Store) RevertPostings(_ context.Context, transactionID string, deltas []core.BalanceDelta) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	if removed == 0 {
		return 0, nil
	}
	s.applyDeltas(deltas)
	return removed, nil
}

// applyDeltas requires s.mu. Accounts deleted since posting are skipped.
func (s *Store) applyDeltas(deltas []core.BalanceDelta) {
	for _, d := range deltas {
		a, ok := s.accounts[d.AccountID]
		if !ok {
			continue
		}
		a.Balance = a.Balance.Add(d.Amount)
		s.accounts[d.AccountID] = a
	}
}

// Recurring rules

func (s *Store) GetRule(_ context.Context, id string) (*core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, core.NewNotFoundError("recurring rule", id)
	}
	return &r, nil
}

func (s *Store) ListRules(_ context.Context, f store.RuleFilter) ([]core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurringRule
	for _, r := range s.rules {
		if f.ActiveOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) InsertRule(_ context.Context, r core.RecurringRule) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if _, exists := s.rules[r.ID]; exists {
		return "", fmt.Errorf("recurring rule %q already exists: %w", r.ID, store.ErrConflict)
	}
	s.rules[r.ID] = r
	return r.ID, nil
}

func (s *Store) UpdateRule(_ context.Context, id string, u store.RuleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return core.NewNotFoundError("recurring rule", id)
	}
	u.Apply(&r)
	s.rules[id] = r
	return nil
}

func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return core.NewNotFoundError("recurring rule", id)
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) ClaimRule(_ context.Context, id string, expectedNext core.Date, u store.RuleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return core.NewNotFoundError("recurring rule", id)
	}
	if !r.NextDate.Equal(expectedNext.Time) {
		return store.ErrConflict
	}
	u.Apply(&r)
	s.rules[id] = r
	return nil
}
