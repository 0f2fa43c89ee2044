package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinels matched with errors.Is against the typed errors below.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConsistency = errors.New("consistency error")
	ErrProcessing  = errors.New("processing error")

	ErrInvalidAmount = errors.New("invalid amount")
)

// ValidationError rejects input before any store write.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing account, transaction or rule.
type NotFoundError struct {
	Kind string
	ID   string
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConsistencyError is raised when a transaction's entries do not balance.
type ConsistencyError struct {
	TransactionID string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("transaction %q unbalanced: debit %s, credit %s",
		e.TransactionID, e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// ProcessingError wraps a store failure while materializing a recurring rule.
type ProcessingError struct {
	RuleID string
	Err    error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("process rule %q: %v", e.RuleID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool { return target == ErrProcessing }
