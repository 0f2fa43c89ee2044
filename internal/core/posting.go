package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceTolerance is the rounding slack allowed when auditing a transaction.
var BalanceTolerance = decimal.New(1, -2)

// Leg names which field of a transaction a posting side lands on.
type Leg int

const (
	LegAccount Leg = iota
	LegToAccount
	LegCategory
)

// PostingRule is the debit/credit template of one transaction type, plus the
// sign of the balance adjustment applied to the source and destination accounts.
type PostingRule struct {
	Debit         Leg
	Credit        Leg
	AccountSign   int
	ToAccountSign int
}

var postingRules = map[TransactionType]PostingRule{
	Expense:  {Debit: LegCategory, Credit: LegAccount, AccountSign: -1},
	Income:   {Debit: LegAccount, Credit: LegCategory, AccountSign: 1},
	Transfer: {Debit: LegToAccount, Credit: LegAccount, AccountSign: -1, ToAccountSign: 1},
}

// PostingRuleFor returns the posting template for t.
func PostingRuleFor(t TransactionType) (PostingRule, error) {
	rule, ok := postingRules[t]
	if !ok {
		return PostingRule{}, NewValidationError("type", "unknown transaction type: "+string(t))
	}
	return rule, nil
}

// BalanceDelta is a signed adjustment to one account's cached balance.
type BalanceDelta struct {
	AccountID string
	Amount    decimal.Decimal
}

// Posting is the full effect of a transaction on the ledger.
type Posting struct {
	Entries []LedgerEntry
	Deltas  []BalanceDelta
}

// BuildPosting derives the two entries and the balance deltas of tx.
// Entry IDs are left empty for the caller to assign.
func BuildPosting(tx Transaction) (Posting, error) {
	if err := tx.Validate(); err != nil {
		return Posting{}, err
	}
	rule, err := PostingRuleFor(tx.Type)
	if err != nil {
		return Posting{}, err
	}

	debit := LedgerEntry{
		TransactionID: tx.ID,
		AccountID:     rule.target(tx, rule.Debit),
		Debit:         tx.Amount,
		Credit:        decimal.Zero,
		Date:          tx.Date,
	}
	credit := LedgerEntry{
		TransactionID: tx.ID,
		AccountID:     rule.target(tx, rule.Credit),
		Debit:         decimal.Zero,
		Credit:        tx.Amount,
		Date:          tx.Date,
	}
	entries := []LedgerEntry{debit, credit}
	if err := CheckBalanced(tx.ID, entries); err != nil {
		return Posting{}, err
	}

	deltas := []BalanceDelta{{AccountID: tx.AccountID, Amount: tx.Amount.Mul(decimal.NewFromInt(int64(rule.AccountSign)))}}
	if rule.ToAccountSign != 0 {
		deltas = append(deltas, BalanceDelta{
			AccountID: tx.ToAccountID,
			Amount:    tx.Amount.Mul(decimal.NewFromInt(int64(rule.ToAccountSign))),
		})
	}

	return Posting{Entries: entries, Deltas: deltas}, nil
}

// Reverse returns the exact negation of the deltas.
func (p Posting) Reverse() []BalanceDelta {
	out := make([]BalanceDelta, len(p.Deltas))
	for i, d := range p.Deltas {
		out[i] = BalanceDelta{AccountID: d.AccountID, Amount: d.Amount.Neg()}
	}
	return out
}

// AccountIDs returns the accounts whose balance the posting touches.
func (p Posting) AccountIDs() []string {
	ids := make([]string, 0, len(p.Deltas))
	for _, d := range p.Deltas {
		ids = append(ids, d.AccountID)
	}
	return ids
}

func (r PostingRule) target(tx Transaction, leg Leg) string {
	switch leg {
	case LegToAccount:
		return tx.ToAccountID
	case LegCategory:
		return tx.CategoryID
	default:
		return tx.AccountID
	}
}

// SumEntries totals both sides of entries.
func SumEntries(entries []LedgerEntry) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, e := range entries {
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit, credit
}

// CheckBalanced returns a ConsistencyError when the entries of transactionID
// differ by BalanceTolerance or more, or when an entry is not single-sided.
func CheckBalanced(transactionID string, entries []LedgerEntry) error {
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}
	}
	debit, credit := SumEntries(entries)
	if debit.Sub(credit).Abs().GreaterThanOrEqual(BalanceTolerance) {
		return &ConsistencyError{TransactionID: transactionID, Debit: debit, Credit: credit}
	}
	return nil
}

// Validate enforces the single-sided, non-negative shape of an entry.
func (e LedgerEntry) Validate() error {
	if e.Debit.IsNegative() || e.Credit.IsNegative() {
		return NewValidationError("entry", "debit and credit must be non-negative")
	}
	if e.Debit.IsZero() == e.Credit.IsZero() {
		return NewValidationError("entry", "exactly one of debit or credit must be nonzero")
	}
	return nil
}

// Net is debit minus credit, the entry's signed effect on its account.
func (e LedgerEntry) Net() decimal.Decimal {
	return e.Debit.Sub(e.Credit)
}
