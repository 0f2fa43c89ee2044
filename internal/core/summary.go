package core

import "github.com/shopspring/decimal"

// BalanceReport compares an account's cached balance with the one derived from its ledger entries.
type BalanceReport struct {
	AccountID string          `json:"account_id"`
	Cached    decimal.Decimal `json:"cached"`
	Ledger    decimal.Decimal `json:"ledger"`
}

// Drift is the cached balance minus the ledger balance.
func (r BalanceReport) Drift() decimal.Decimal {
	return r.Cached.Sub(r.Ledger)
}

// InSync reports whether the two balances agree within BalanceTolerance.
func (r BalanceReport) InSync() bool {
	return r.Drift().Abs().LessThan(BalanceTolerance)
}
