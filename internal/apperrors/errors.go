package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrBalanceNotFound    = errors.New("balance not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")

	ErrTransactionExists   = errors.New("ledger transaction already committed for this reference")
	ErrTransactionNotFound = errors.New("ledger transaction not found")

	ErrInsufficientFunds = errors.New("insufficient available funds")
	ErrInsufficientHeld  = errors.New("insufficient held funds")

	ErrCurrencyUnsupported        = errors.New("currency is not supported")
	ErrTransactionTypeUnsupported = errors.New("transaction type is not supported")
)

// ValidationError: malformed input (non positive amount, out of range page and so on)
// Never retried, always surfaced to the caller as is
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func NewValidationError(field string, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// BadRequestError: malformed identifier (user id that is not a valid UUID for example)
type BadRequestError struct {
	Param string
	Err   error
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("bad request: invalid %s: %v", e.Param, e.Err)
}

func (e *BadRequestError) Unwrap() error {
	return e.Err
}

// InvalidStateTransitionError is returned when a withdrawal transition is not
// allowed by the transition table. Carries both endpoints for diagnostics.
// It is a workflow programming error: never retried, always surfaced.
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid withdrawal state transition from %q to %q", e.From, e.To)
}
