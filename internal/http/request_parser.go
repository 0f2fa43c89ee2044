package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

const maxBodyBytes = 1 << 20

// Amount accepts a JSON string ("12,50") or number (12.5) and parses it with
// core.ParseAmount, so it is always positive and rounded to cents.
type Amount struct {
	decimal.Decimal
	set bool
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	d, err := core.ParseAmount(raw)
	if err != nil {
		return core.NewValidationError("amount", fmt.Sprintf("invalid amount %q", raw))
	}
	a.Decimal, a.set = d, true
	return nil
}

type accountRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	// Balance is the opening balance and may be zero or negative.
	Balance *decimal.Decimal `json:"balance"`
}

func (req accountRequest) toAccount() core.Account {
	a := core.Account{
		ID:       strings.TrimSpace(req.ID),
		Name:     sanitizeInput(req.Name),
		Currency: req.Currency,
	}
	if req.Balance != nil {
		a.Balance = req.Balance.Round(2)
	}
	return a
}

type transactionRequest struct {
	Type        core.TransactionType `json:"type"`
	Amount      Amount               `json:"amount"`
	AccountID   string               `json:"account_id"`
	ToAccountID string               `json:"to_account_id"`
	CategoryID  string               `json:"category_id"`
	Date        core.Date            `json:"date"`
	Description string               `json:"description"`
}

// toTransaction builds the transaction; a missing date defaults to today.
func (req transactionRequest) toTransaction(today core.Date) core.Transaction {
	date := req.Date
	if date.IsEmpty() {
		date = today
	}
	return core.Transaction{
		Type:        core.TransactionType(strings.ToLower(strings.TrimSpace(string(req.Type)))),
		Amount:      req.Amount.Decimal,
		AccountID:   strings.TrimSpace(req.AccountID),
		ToAccountID: strings.TrimSpace(req.ToAccountID),
		CategoryID:  strings.TrimSpace(req.CategoryID),
		Date:        date,
		Description: sanitizeInput(req.Description),
	}
}

type ruleRequest struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Type        core.TransactionType `json:"type"`
	Amount      Amount               `json:"amount"`
	AccountID   string               `json:"account_id"`
	ToAccountID string               `json:"to_account_id"`
	CategoryID  string               `json:"category_id"`
	Frequency   core.Frequency       `json:"frequency"`
	StartDate   core.Date            `json:"start_date"`
	EndDate     core.Date            `json:"end_date"`
}

func (req ruleRequest) toRule() core.RecurringRule {
	return core.RecurringRule{
		ID:          strings.TrimSpace(req.ID),
		Name:        sanitizeInput(req.Name),
		Type:        core.TransactionType(strings.ToLower(strings.TrimSpace(string(req.Type)))),
		Amount:      req.Amount.Decimal,
		AccountID:   strings.TrimSpace(req.AccountID),
		ToAccountID: strings.TrimSpace(req.ToAccountID),
		CategoryID:  strings.TrimSpace(req.CategoryID),
		Frequency:   core.Frequency(strings.ToLower(strings.TrimSpace(string(req.Frequency)))),
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}
}

// decodeJSON reads a single JSON object into v, rejecting unknown fields.
// Malformed bodies are reported as validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return core.NewValidationError("", "request body too large or unreadable")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return core.NewValidationError("", "request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return core.NewValidationError("", "invalid JSON: "+err.Error())
	}
	return nil
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(r *http.Request, name string) (core.Date, error) {
	d, err := core.ParseDate(r.URL.Query().Get(name))
	if err != nil {
		return core.Date{}, core.NewValidationError(name, "date must be YYYY-MM-DD")
	}
	return d, nil
}

func transactionFilter(r *http.Request) (store.TransactionFilter, error) {
	q := r.URL.Query()
	f := store.TransactionFilter{
		AccountID:   strings.TrimSpace(q.Get("account_id")),
		RecurringID: strings.TrimSpace(q.Get("recurring_id")),
	}
	var err error
	if f.From, err = queryDate(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = queryDate(r, "to"); err != nil {
		return f, err
	}
	if !f.From.IsEmpty() && !f.To.IsEmpty() && f.To.Before(f.From.Time) {
		return f, core.NewValidationError("to", "to must not be before from")
	}
	return f, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
