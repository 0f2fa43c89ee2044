package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

const (
	Daily        Frequency = "daily"
	Weekly       Frequency = "weekly"
	Biweekly     Frequency = "biweekly"
	Monthly      Frequency = "monthly"
	Quarterly    Frequency = "quarterly"
	Semiannually Frequency = "semiannually"
	Yearly       Frequency = "yearly"
)

const maxNameLength = 200

type (
	TransactionType string

	Frequency string

	Account struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Balance  decimal.Decimal `json:"balance"`
		Currency string          `json:"currency"`
	}

	Transaction struct {
		ID              string          `json:"id"`
		Type            TransactionType `json:"type"`
		Amount          decimal.Decimal `json:"amount"`
		AccountID       string          `json:"account_id"`
		ToAccountID     string          `json:"to_account_id,omitempty"`
		CategoryID      string          `json:"category_id,omitempty"`
		Date            Date            `json:"date"`
		Description     string          `json:"description,omitempty"`
		RecurringID     string          `json:"recurring_id,omitempty"`
		IsAutoGenerated bool            `json:"is_auto_generated"`
	}

	// LedgerEntry is one side of a posting. Exactly one of Debit/Credit is nonzero.
	LedgerEntry struct {
		ID            string          `json:"id"`
		TransactionID string          `json:"transaction_id"`
		AccountID     string          `json:"account_id"`
		Debit         decimal.Decimal `json:"debit"`
		Credit        decimal.Decimal `json:"credit"`
		Date          Date            `json:"date"`
	}

	RecurringRule struct {
		ID            string          `json:"id"`
		Name          string          `json:"name"`
		Type          TransactionType `json:"type"`
		Amount        decimal.Decimal `json:"amount"`
		AccountID     string          `json:"account_id"`
		ToAccountID   string          `json:"to_account_id,omitempty"`
		CategoryID    string          `json:"category_id,omitempty"`
		Frequency     Frequency       `json:"frequency"`
		StartDate     Date            `json:"start_date"`
		EndDate       Date            `json:"end_date,omitempty"`
		NextDate      Date            `json:"next_date,omitempty"`
		LastProcessed Date            `json:"last_processed,omitempty"`
		IsActive      bool            `json:"is_active"`
	}
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	default:
		return false
	}
}

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Quarterly, Semiannually, Yearly:
		return true
	default:
		return false
	}
}

// Frequencies lists every supported frequency in ascending step order.
func Frequencies() []Frequency {
	return []Frequency{Daily, Weekly, Biweekly, Monthly, Quarterly, Semiannually, Yearly}
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return NewValidationError("id", "account id is required")
	}
	if len(a.Name) > maxNameLength {
		return NewValidationError("name", "name too long (max 200 characters)")
	}
	if c := strings.TrimSpace(a.Currency); c != "" && len(c) != 3 {
		return NewValidationError("currency", "currency must be a 3-letter code")
	}
	return nil
}

// Validate checks the per-type field requirements of a transaction.
// It runs before any store write.
func (t Transaction) Validate() error {
	if err := validateTarget(t.Type, t.Amount, t.AccountID, t.ToAccountID, t.CategoryID); err != nil {
		return err
	}
	if err := t.Date.Validate(); err != nil {
		return NewValidationError("date", err.Error())
	}
	if len(t.Description) > maxNameLength {
		return NewValidationError("description", "description too long (max 200 characters)")
	}
	return nil
}

func (r RecurringRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("name", "name is required")
	}
	if len(r.Name) > maxNameLength {
		return NewValidationError("name", "name too long (max 200 characters)")
	}
	if err := validateTarget(r.Type, r.Amount, r.AccountID, r.ToAccountID, r.CategoryID); err != nil {
		return err
	}
	if !r.Frequency.Valid() {
		return NewValidationError("frequency", "invalid frequency: "+string(r.Frequency))
	}
	if err := r.StartDate.Validate(); err != nil {
		return NewValidationError("start_date", err.Error())
	}
	if !r.EndDate.IsEmpty() && r.EndDate.Before(r.StartDate.Time) {
		return NewValidationError("end_date", "end date must not be before start date")
	}
	return nil
}

// ToTransaction builds the concrete transaction a rule materializes into on date.
func (r RecurringRule) ToTransaction(date Date) Transaction {
	return Transaction{
		Type:            r.Type,
		Amount:          r.Amount,
		AccountID:       r.AccountID,
		ToAccountID:     r.ToAccountID,
		CategoryID:      r.CategoryID,
		Date:            date,
		Description:     r.Name,
		RecurringID:     r.ID,
		IsAutoGenerated: true,
	}
}

// IsDue reports whether the rule should run for asOf.
func (r RecurringRule) IsDue(asOf Date) bool {
	if !r.IsActive || r.NextDate.IsEmpty() {
		return false
	}
	return !r.NextDate.After(asOf.Time)
}

// Expired reports whether the rule's end date falls before its next run.
func (r RecurringRule) Expired() bool {
	return !r.EndDate.IsEmpty() && !r.NextDate.IsEmpty() && r.EndDate.Before(r.NextDate.Time)
}

func validateTarget(typ TransactionType, amount decimal.Decimal, accountID, toAccountID, categoryID string) error {
	if !typ.Valid() {
		return NewValidationError("type", "unknown transaction type: "+string(typ))
	}
	if !amount.IsPositive() {
		return NewValidationError("amount", ErrInvalidAmount.Error())
	}
	if strings.TrimSpace(accountID) == "" {
		return NewValidationError("account_id", "account is required")
	}
	if typ == Transfer {
		if strings.TrimSpace(toAccountID) == "" {
			return NewValidationError("to_account_id", "destination account is required for transfers")
		}
		if toAccountID == accountID {
			return NewValidationError("to_account_id", "cannot transfer to the same account")
		}
		if categoryID != "" {
			return NewValidationError("category_id", "transfers do not take a category")
		}
		return nil
	}
	if strings.TrimSpace(categoryID) == "" {
		return NewValidationError("category_id", "category is required for "+string(typ))
	}
	if toAccountID != "" {
		return NewValidationError("to_account_id", "only transfers take a destination account")
	}
	return nil
}

// Today returns the current calendar day in UTC.
func Today() Date {
	return DateOf(time.Now())
}
