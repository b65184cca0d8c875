package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paylance/ledger/internal/apperrors"
	"github.com/paylance/ledger/internal/logger"
	"github.com/paylance/ledger/internal/models"
	"github.com/paylance/ledger/internal/repository"
)

// Pagination bounds for transaction history
const (
	MaxPage      = 1000
	MaxLimit     = 100
	DefaultLimit = 20
)

// BalanceService is the single choke point for balance mutation. Every write
// runs inside one storage transaction, is idempotent on (reference id,
// reference type, transaction type) and appends exactly one ledger entry.
type BalanceService struct {
	storage repository.Storage
	logger  logger.Logger
}

func NewService(storage repository.Storage, l logger.Logger) *BalanceService {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &BalanceService{
		storage: storage,
		logger:  l,
	}
}

// MutationParams carries the shared arguments of every balance mutation
type MutationParams struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Reference   models.Reference
	Description string
}

// CreditAvailable increases the spendable amount, creating the balance row on
// first use.
func (s *BalanceService) CreditAvailable(ctx context.Context, p MutationParams) (models.Balance, error) {
	if err := validateMutation(p); err != nil {
		return models.Balance{}, err
	}

	return s.apply(ctx, p, models.TransactionTypeCredit, p.Amount, decimal.Zero)
}

// SettleIncoming credits funds released from an escrow settlement. Same
// semantics as CreditAvailable, logged with its own ledger entry type.
func (s *BalanceService) SettleIncoming(ctx context.Context, p MutationParams) (models.Balance, error) {
	if err := validateMutation(p); err != nil {
		return models.Balance{}, err
	}

	return s.apply(ctx, p, models.TransactionTypeSettleIn, p.Amount, decimal.Zero)
}

// DebitAvailable decreases the spendable amount. The amount check happens
// atomically with the write: of two concurrent debits that together overdraw
// the balance exactly one fails with apperrors.ErrInsufficientFunds.
func (s *BalanceService) DebitAvailable(ctx context.Context, p MutationParams) (models.Balance, error) {
	if err := validateMutation(p); err != nil {
		return models.Balance{}, err
	}

	return s.apply(ctx, p, models.TransactionTypeDebit, p.Amount.Neg(), decimal.Zero)
}

// HoldAmount moves funds from available to held, earmarking them for a
// pending withdrawal. Fails like a debit when available is short.
func (s *BalanceService) HoldAmount(ctx context.Context, p MutationParams) (models.Balance, error) {
	if err := validateMutation(p); err != nil {
		return models.Balance{}, err
	}

	return s.apply(ctx, p, models.TransactionTypeHold, p.Amount.Neg(), p.Amount)
}

// ReleaseHold removes funds from held. With toAvailable they move back to the
// spendable amount (cancellation), otherwise they leave the ledger entirely
// (successful settlement). Fails with apperrors.ErrInsufficientHeld when held
// is short.
func (s *BalanceService) ReleaseHold(ctx context.Context, p MutationParams, toAvailable bool) (models.Balance, error) {
	if err := validateMutation(p); err != nil {
		return models.Balance{}, err
	}

	if toAvailable {
		return s.apply(ctx, p, models.TransactionTypeRelease, p.Amount, p.Amount.Neg())
	}
	return s.apply(ctx, p, models.TransactionTypeSettleOut, decimal.Zero, p.Amount.Neg())
}

// GetUserBalances returns the balance rows for the user. With a currency set
// the result holds at most that one row.
func (s *BalanceService) GetUserBalances(ctx context.Context, userID uuid.UUID, currency string) ([]models.Balance, error) {
	if userID == uuid.Nil {
		return nil, &apperrors.BadRequestError{Param: "user_id", Err: errors.New("empty uuid")}
	}

	if currency == "" {
		return s.storage.Ledger().ListBalances(ctx, userID)
	}

	if !models.IsSupportedCurrency(currency) {
		return nil, apperrors.ErrCurrencyUnsupported
	}

	balance, err := s.storage.Ledger().GetBalance(ctx, userID, currency, false)
	switch {
	case err == nil:
		return []models.Balance{balance}, nil
	case errors.Is(err, apperrors.ErrBalanceNotFound):
		return []models.Balance{}, nil
	default:
		return nil, err
	}
}

// HistoryParams filters the transaction history query
type HistoryParams struct {
	Currency string
	Type     string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

type Pagination struct {
	Page  int
	Limit int
	Total int64
	Pages int64
}

type History struct {
	Transactions []models.Transaction
	Pagination   Pagination
}

// GetTransactionHistory returns ledger entries ordered by created_at
// descending. Page must stay within [1, 1000], limit within [1, 100]; zero
// means default.
func (s *BalanceService) GetTransactionHistory(ctx context.Context, userID uuid.UUID, p HistoryParams) (History, error) {
	if userID == uuid.Nil {
		return History{}, &apperrors.BadRequestError{Param: "user_id", Err: errors.New("empty uuid")}
	}

	if p.Page == 0 {
		p.Page = 1
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}

	switch {
	case p.Page < 1 || p.Page > MaxPage:
		return History{}, apperrors.NewValidationError("page", fmt.Sprintf("must be between 1 and %d", MaxPage))
	case p.Limit < 1 || p.Limit > MaxLimit:
		return History{}, apperrors.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", MaxLimit))
	case p.Currency != "" && !models.IsSupportedCurrency(p.Currency):
		return History{}, apperrors.ErrCurrencyUnsupported
	case p.Type != "" && !models.IsSupportedTransactionType(p.Type):
		return History{}, apperrors.ErrTransactionTypeUnsupported
	}

	transactions, total, err := s.storage.Ledger().ListTransactions(ctx, userID, repository.TransactionFilter{
		Currency: p.Currency,
		Type:     p.Type,
		From:     p.From,
		To:       p.To,
		Limit:    p.Limit,
		Offset:   (p.Page - 1) * p.Limit,
	})
	if err != nil {
		s.logger.Error("Failed to list ledger transactions", "user_id", userID, "error", err)
		return History{}, fmt.Errorf("list transactions: %w", err)
	}

	pages := total / int64(p.Limit)
	if total%int64(p.Limit) != 0 {
		pages++
	}

	return History{
		Transactions: transactions,
		Pagination:   Pagination{Page: p.Page, Limit: p.Limit, Total: total, Pages: pages},
	}, nil
}

// apply runs one ledger mutation as a single atomic unit: replay check,
// conditional balance update and the ledger entry all commit or roll back
// together.
func (s *BalanceService) apply(ctx context.Context, p MutationParams, txType string, availableDelta, heldDelta decimal.Decimal) (models.Balance, error) {
	var result models.Balance

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		ledger := st.Ledger()

		// a committed entry for this key means the whole operation already
		// happened: return the current balance untouched
		_, err := ledger.GetTransaction(ctx, p.Reference, txType)
		switch {
		case err == nil:
			result, err = ledger.GetBalance(ctx, p.UserID, p.Currency, false)
			return err
		case !errors.Is(err, apperrors.ErrTransactionNotFound):
			return err
		}

		// credits create the balance row lazily
		if availableDelta.IsPositive() && heldDelta.IsZero() {
			if _, err := ledger.CreateBalance(ctx, p.UserID, p.Currency); err != nil {
				return err
			}
		}

		balance, err := ledger.ApplyDelta(ctx, p.UserID, p.Currency, availableDelta, heldDelta)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrBalanceNotFound):
			// a balance row that never existed has nothing on either side
			if heldDelta.IsNegative() {
				return apperrors.ErrInsufficientHeld
			}
			return apperrors.ErrInsufficientFunds
		default:
			return err
		}

		_, err = ledger.CreateTransaction(ctx, models.Transaction{
			UserID:       p.UserID,
			Currency:     p.Currency,
			Type:         txType,
			Amount:       p.Amount,
			Reference:    p.Reference,
			Description:  p.Description,
			BalanceAfter: balance.Available,
		})
		if err != nil {
			return err
		}

		result = balance
		return nil
	})

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, apperrors.ErrTransactionExists):
		// lost the race against an identical retry: its result is committed,
		// report it as ours
		return s.storage.Ledger().GetBalance(ctx, p.UserID, p.Currency, false)
	case errors.Is(err, apperrors.ErrInsufficientFunds), errors.Is(err, apperrors.ErrInsufficientHeld):
		return models.Balance{}, err
	default:
		s.logger.Error("Ledger mutation failed",
			"user_id", p.UserID,
			"currency", p.Currency,
			"type", txType,
			"reference_id", p.Reference.ID,
			"reference_type", p.Reference.Type,
			"error", err,
		)
		return models.Balance{}, fmt.Errorf("ledger mutation %s: %w", txType, err)
	}
}

func validateMutation(p MutationParams) error {
	if p.UserID == uuid.Nil {
		return &apperrors.BadRequestError{Param: "user_id", Err: errors.New("empty uuid")}
	}
	if !p.Amount.IsPositive() {
		return apperrors.NewValidationError("amount", "must be positive")
	}
	if p.Amount.Exponent() < -8 {
		return apperrors.NewValidationError("amount", "must have at most 8 fractional digits")
	}
	if !models.IsSupportedCurrency(p.Currency) {
		return apperrors.ErrCurrencyUnsupported
	}
	if p.Reference.ID == uuid.Nil {
		return apperrors.NewValidationError("reference_id", "must be set")
	}
	if p.Reference.Type == "" {
		return apperrors.NewValidationError("reference_type", "must be set")
	}

	return nil
}
