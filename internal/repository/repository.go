package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paylance/ledger/internal/models"
)

// Ledger repository interface
// The balance pair (available, held) is owned by the balance service, nothing
// else is allowed to write it. All amount checks happen inside the store in a
// single statement, never as a separate read then write.
type LedgerRepo interface {
	// Create zero balance row for (userID, currency)
	// Creating the same pair twice is a no-op that returns the existing row
	CreateBalance(ctx context.Context, userID uuid.UUID, currency string) (models.Balance, error)

	// Get single balance row
	// If row not found must return apperrors.ErrBalanceNotFound
	// forUpdate locks the row until the surrounding transaction ends
	GetBalance(ctx context.Context, userID uuid.UUID, currency string, forUpdate bool) (models.Balance, error)

	// List balance rows for user, all currencies
	ListBalances(ctx context.Context, userID uuid.UUID) ([]models.Balance, error)

	// Atomically shift the balance pair by the given deltas in one statement.
	// The statement itself rejects a mutation that would drive a column
	// negative: apperrors.ErrInsufficientFunds for available,
	// apperrors.ErrInsufficientHeld for held.
	ApplyDelta(ctx context.Context, userID uuid.UUID, currency string, availableDelta, heldDelta decimal.Decimal) (models.Balance, error)

	// Append a ledger entry
	// Must return apperrors.ErrTransactionExists when the idempotency key
	// (reference id, reference type, transaction type) is already committed
	CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error)

	// Find the committed entry for an idempotency key
	// If not found must return apperrors.ErrTransactionNotFound
	GetTransaction(ctx context.Context, ref models.Reference, txType string) (models.Transaction, error)

	// List ledger entries ordered by created_at descending
	// Returns the page and the total row count for the filter
	ListTransactions(ctx context.Context, userID uuid.UUID, filter TransactionFilter) ([]models.Transaction, int64, error)
}

// Filter for transaction history queries. Zero values mean "not set".
type TransactionFilter struct {
	Currency string
	Type     string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// Withdrawal repository interface
type WithdrawalRepo interface {
	CreateWithdrawal(ctx context.Context, w models.Withdrawal) (models.Withdrawal, error)

	// Get withdrawal by id
	// If not found must return apperrors.ErrWithdrawalNotFound
	// forUpdate locks the row so a concurrent transition cannot interleave
	GetWithdrawal(ctx context.Context, id uuid.UUID, forUpdate bool) (models.Withdrawal, error)

	ListWithdrawals(ctx context.Context, userID uuid.UUID) ([]models.Withdrawal, error)

	// Compare-and-set the status; the guard on the current status makes sure
	// two concurrent transitions cannot both win.
	// If no row matched (id unknown or status moved) must return
	// apperrors.ErrWithdrawalNotFound
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.WithdrawalStatus, txHash string) (models.Withdrawal, error)
}

// Storage bundles the repositories over one database handle
type Storage interface {
	Ledger() LedgerRepo
	Withdrawal() WithdrawalRepo

	// Run fn inside a database transaction. The storage passed to fn is bound
	// to that transaction; returning an error rolls everything back.
	InTx(ctx context.Context, fn func(Storage) error) error
}
