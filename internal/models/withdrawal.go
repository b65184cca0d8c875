package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paylance/ledger/internal/apperrors"
)

type WithdrawalStatus string

const (
	WithdrawalCreated             WithdrawalStatus = "CREATED"
	WithdrawalPendingVerification WithdrawalStatus = "PENDING_VERIFICATION"
	WithdrawalCompleted           WithdrawalStatus = "COMPLETED"
	WithdrawalFailed              WithdrawalStatus = "FAILED"
	WithdrawalCanceled            WithdrawalStatus = "CANCELED"
	WithdrawalRefunded            WithdrawalStatus = "REFUNDED"
)

// A status missing from the map has no outgoing transitions; the predicates
// below stay total over unknown statuses.
var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalCreated:             {WithdrawalPendingVerification, WithdrawalCanceled, WithdrawalFailed},
	WithdrawalPendingVerification: {WithdrawalCompleted, WithdrawalCanceled, WithdrawalFailed},
	WithdrawalFailed:              {WithdrawalRefunded},
	WithdrawalCompleted:           {},
	WithdrawalCanceled:            {},
	WithdrawalRefunded:            {},
}

func (s WithdrawalStatus) String() string {
	return string(s)
}

// CanTransition reports whether the transition table allows from -> to.
// Unknown statuses return false, the predicate never panics.
func CanTransition(from, to WithdrawalStatus) bool {
	return slices.Contains(withdrawalTransitions[from], to)
}

// ValidTransitions returns the allowed next statuses for the given one.
// Terminal and unknown statuses get an empty slice.
func ValidTransitions(from WithdrawalStatus) []WithdrawalStatus {
	return slices.Clone(withdrawalTransitions[from])
}

func CanCancel(s WithdrawalStatus) bool {
	return CanTransition(s, WithdrawalCanceled)
}

func CanRefund(s WithdrawalStatus) bool {
	return CanTransition(s, WithdrawalRefunded)
}

func IsTerminalStatus(s WithdrawalStatus) bool {
	allowed, known := withdrawalTransitions[s]
	return known && len(allowed) == 0
}

func IsInitialStatus(s WithdrawalStatus) bool {
	return s == WithdrawalCreated
}

func AllWithdrawalStatuses() []WithdrawalStatus {
	return []WithdrawalStatus{
		WithdrawalCreated,
		WithdrawalPendingVerification,
		WithdrawalCompleted,
		WithdrawalFailed,
		WithdrawalCanceled,
		WithdrawalRefunded,
	}
}

func TerminalWithdrawalStatuses() []WithdrawalStatus {
	terminal := make([]WithdrawalStatus, 0, 3)
	for _, s := range AllWithdrawalStatuses() {
		if IsTerminalStatus(s) {
			terminal = append(terminal, s)
		}
	}
	return terminal
}

// Withdrawal is a request to move funds off the platform. The record is an
// opaque payload to the transition helpers: they only look at Status.
type Withdrawal struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Status      WithdrawalStatus
	Destination string
	TxHash      string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// Transition returns a copy of the withdrawal with the status advanced.
// The receiver is never mutated. A transition the table does not allow
// returns apperrors.InvalidStateTransitionError.
func (w Withdrawal) Transition(to WithdrawalStatus) (Withdrawal, error) {
	if !CanTransition(w.Status, to) {
		return w, &apperrors.InvalidStateTransitionError{From: w.Status.String(), To: to.String()}
	}

	next := w
	next.Status = to
	return next, nil
}
