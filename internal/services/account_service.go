package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/store"
)

// AccountService opens accounts and reports their balances. Balances change
// only through the ledger engine.
type AccountService struct {
	store  store.Accounts
	engine *ledger.Engine
}

func NewAccountService(s store.Accounts, engine *ledger.Engine) *AccountService {
	return &AccountService{store: s, engine: engine}
}

// Open stores a new account. An opening balance is taken as given and is not
// posted to the ledger, so it shows up as drift in LedgerBalance.
func (s *AccountService) Open(ctx context.Context, a core.Account) (*core.Account, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Currency = strings.ToUpper(strings.TrimSpace(a.Currency))
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.InsertAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}
	slog.InfoContext(ctx, "Account opened",
		"account_id", a.ID,
		"currency", a.Currency,
		"opening_balance", a.Balance.StringFixed(2))
	return &a, nil
}

func (s *AccountService) Get(ctx context.Context, id string) (*core.Account, error) {
	return s.store.GetAccount(ctx, id)
}

func (s *AccountService) List(ctx context.Context) ([]core.Account, error) {
	return s.store.ListAccounts(ctx)
}

// LedgerBalance compares the cached balance of id with its ledger-derived one.
func (s *AccountService) LedgerBalance(ctx context.Context, id string) (core.BalanceReport, error) {
	return s.engine.Drift(ctx, id)
}

// Audit reports every account whose cached balance disagrees with its ledger.
func (s *AccountService) Audit(ctx context.Context) ([]core.BalanceReport, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var drifted []core.BalanceReport
	for _, a := range accounts {
		report, err := s.engine.Drift(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if !report.InSync() {
			drifted = append(drifted, report)
		}
	}
	return drifted, nil
}

// Total sums the cached balances of every account.
func (s *AccountService) Total(ctx context.Context) (decimal.Decimal, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list accounts: %w", err)
	}
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}
	return total, nil
}
