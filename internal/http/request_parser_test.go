package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fintrack/internal/core"
)

func TestAmountUnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: `"12,50"`, want: "12.5"},
		{in: `"12.345"`, want: "12.35"},
		{in: `42`, want: "42"},
		{in: `0.1`, want: "0.1"},
		{in: `"-5"`, wantErr: true},
		{in: `"abc"`, wantErr: true},
		{in: `0`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var a Amount
			err := a.UnmarshalJSON([]byte(tt.in))
			if tt.wantErr {
				if !errors.Is(err, core.ErrValidation) {
					t.Fatalf("UnmarshalJSON(%s) error = %v, want validation error", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("UnmarshalJSON(%s) error = %v", tt.in, err)
			}
			if a.String() != tt.want {
				t.Errorf("UnmarshalJSON(%s) = %s, want %s", tt.in, a.String(), tt.want)
			}
		})
	}
}

func TestTransactionRequestDefaults(t *testing.T) {
	today := core.NewDate(2024, 6, 1)
	req := transactionRequest{
		Type:        " EXPENSE ",
		AccountID:   " checking ",
		CategoryID:  "food",
		Description: "  lunch\x00 ",
	}
	tx := req.toTransaction(today)
	if tx.Type != core.Expense {
		t.Errorf("type = %q, want expense", tx.Type)
	}
	if tx.AccountID != "checking" {
		t.Errorf("account = %q, want trimmed", tx.AccountID)
	}
	if !tx.Date.Equal(today.Time) {
		t.Errorf("date = %s, want %s", tx.Date, today)
	}
	if tx.Description != "lunch" {
		t.Errorf("description = %q, want sanitized", tx.Description)
	}

	req.Date = core.NewDate(2024, 1, 15)
	if got := req.toTransaction(today).Date.String(); got != "2024-01-15" {
		t.Errorf("explicit date = %s, want 2024-01-15", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantField string
	}{
		{name: "valid", body: `{"type":"income","amount":"10"}`},
		{name: "empty", body: "  ", wantErr: true},
		{name: "malformed", body: `{"type":`, wantErr: true},
		{name: "unknown field", body: `{"kind":"income"}`, wantErr: true},
		{name: "bad amount", body: `{"amount":"ten"}`, wantErr: true, wantField: "amount"},
		{name: "bad date", body: `{"date":"2024-13-01"}`, wantErr: true},
		{name: "too large", body: `{"description":"` + strings.Repeat("x", maxBodyBytes) + `"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var req transactionRequest
			err := decodeJSON(httptest.NewRecorder(), r, &req)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("decodeJSON() error = %v", err)
				}
				return
			}
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("decodeJSON() error = %v, want *core.ValidationError", err)
			}
			if tt.wantField != "" && verr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestTransactionFilter(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
		check   func(t *testing.T, from, to string, account string)
	}{
		{
			name:  "all params",
			query: "?account_id=checking&from=2024-01-01&to=2024-01-31",
			check: func(t *testing.T, from, to, account string) {
				if from != "2024-01-01" || to != "2024-01-31" || account != "checking" {
					t.Errorf("filter = %s..%s %s", from, to, account)
				}
			},
		},
		{name: "empty", query: ""},
		{name: "inverted range", query: "?from=2024-02-01&to=2024-01-01", wantErr: true},
		{name: "bad date", query: "?to=yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/transactions"+tt.query, nil)
			f, err := transactionFilter(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("transactionFilter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, f.From.String(), f.To.String(), f.AccountID)
			}
		})
	}
}
