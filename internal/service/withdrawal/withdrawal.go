package withdrawal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paylance/ledger/internal/apperrors"
	"github.com/paylance/ledger/internal/logger"
	"github.com/paylance/ledger/internal/models"
	"github.com/paylance/ledger/internal/repository"
	"github.com/paylance/ledger/internal/service/balance"
)

// Settler submits a withdrawal to the external settlement system. Building
// and broadcasting the blockchain transaction happens behind this boundary.
type Settler interface {
	Submit(ctx context.Context, w models.Withdrawal) (txHash string, err error)
}

// WithdrawalService coordinates withdrawal status transitions with the ledger:
// hold on creation, settle out on completion, release back on cancellation and
// refund. Every coordination step runs inside one storage transaction.
type WithdrawalService struct {
	storage repository.Storage
	settler Settler
	logger  logger.Logger
}

func NewService(storage repository.Storage, settler Settler, l logger.Logger) *WithdrawalService {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &WithdrawalService{
		storage: storage,
		settler: settler,
		logger:  l,
	}
}

type CreateParams struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Destination string
}

// Create inserts the withdrawal and places the hold in one transaction. When
// available funds are short nothing is persisted.
func (s *WithdrawalService) Create(ctx context.Context, p CreateParams) (models.Withdrawal, error) {
	if p.Destination == "" {
		return models.Withdrawal{}, apperrors.NewValidationError("destination", "must be set")
	}

	var created models.Withdrawal

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		w, err := st.Withdrawal().CreateWithdrawal(ctx, models.Withdrawal{
			UserID:      p.UserID,
			Amount:      p.Amount,
			Currency:    p.Currency,
			Status:      models.WithdrawalCreated,
			Destination: p.Destination,
		})
		if err != nil {
			return err
		}

		_, err = balance.NewService(st, s.logger).HoldAmount(ctx, balance.MutationParams{
			UserID:      p.UserID,
			Amount:      p.Amount,
			Currency:    p.Currency,
			Reference:   models.Reference{ID: w.ID, Type: models.ReferenceTypeWithdrawal},
			Description: "withdrawal hold",
		})
		if err != nil {
			return err
		}

		created = w
		return nil
	})
	if err != nil {
		return models.Withdrawal{}, err
	}

	s.logger.Info("Withdrawal created",
		"withdrawal_id", created.ID,
		"user_id", created.UserID,
		"amount", created.Amount,
		"currency", created.Currency,
	)
	return created, nil
}

// StartVerification moves the withdrawal to PENDING_VERIFICATION
func (s *WithdrawalService) StartVerification(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	var w models.Withdrawal

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		w, err = advance(ctx, st, id, models.WithdrawalPendingVerification, "")
		return err
	})

	return w, err
}

// Complete marks a verified withdrawal settled: the held amount leaves the
// ledger and the on-chain transaction hash is recorded.
func (s *WithdrawalService) Complete(ctx context.Context, id uuid.UUID, txHash string) (models.Withdrawal, error) {
	var w models.Withdrawal

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		w, err = advance(ctx, st, id, models.WithdrawalCompleted, txHash)
		if err != nil {
			return err
		}

		_, err = balance.NewService(st, s.logger).ReleaseHold(ctx, balance.MutationParams{
			UserID:      w.UserID,
			Amount:      w.Amount,
			Currency:    w.Currency,
			Reference:   models.Reference{ID: w.ID, Type: models.ReferenceTypeWithdrawal},
			Description: "withdrawal settled",
		}, false)
		return err
	})
	if err != nil {
		return models.Withdrawal{}, err
	}

	s.logger.Info("Withdrawal completed", "withdrawal_id", w.ID, "tx_hash", w.TxHash)
	return w, nil
}

// Fail marks the withdrawal failed. The hold stays in place until Refund.
func (s *WithdrawalService) Fail(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	var w models.Withdrawal

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		w, err = advance(ctx, st, id, models.WithdrawalFailed, "")
		return err
	})

	return w, err
}

// Cancel aborts a withdrawal before settlement and moves the held amount back
// to available.
func (s *WithdrawalService) Cancel(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	return s.releaseAndAdvance(ctx, id, models.WithdrawalCanceled, "withdrawal canceled")
}

// Refund returns the held amount of a failed withdrawal to available
func (s *WithdrawalService) Refund(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	return s.releaseAndAdvance(ctx, id, models.WithdrawalRefunded, "withdrawal refunded")
}

func (s *WithdrawalService) releaseAndAdvance(ctx context.Context, id uuid.UUID, to models.WithdrawalStatus, description string) (models.Withdrawal, error) {
	var w models.Withdrawal

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		w, err = advance(ctx, st, id, to, "")
		if err != nil {
			return err
		}

		_, err = balance.NewService(st, s.logger).ReleaseHold(ctx, balance.MutationParams{
			UserID:      w.UserID,
			Amount:      w.Amount,
			Currency:    w.Currency,
			Reference:   models.Reference{ID: w.ID, Type: models.ReferenceTypeWithdrawal},
			Description: description,
		}, true)
		return err
	})
	if err != nil {
		return models.Withdrawal{}, err
	}

	s.logger.Info("Withdrawal closed", "withdrawal_id", w.ID, "status", w.Status)
	return w, nil
}

// Process submits a pending withdrawal to the settlement system and records
// the outcome. A submission error leaves the withdrawal FAILED so it can be
// refunded; the submission itself is retryable by the settler contract.
func (s *WithdrawalService) Process(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	w, err := s.storage.Withdrawal().GetWithdrawal(ctx, id, false)
	if err != nil {
		return models.Withdrawal{}, err
	}

	if w.Status != models.WithdrawalPendingVerification {
		return models.Withdrawal{}, &apperrors.InvalidStateTransitionError{
			From: w.Status.String(),
			To:   models.WithdrawalCompleted.String(),
		}
	}

	txHash, err := s.settler.Submit(ctx, w)
	if err != nil {
		s.logger.Error("Settlement submission failed", "withdrawal_id", w.ID, "error", err)

		if _, failErr := s.Fail(ctx, id); failErr != nil {
			return models.Withdrawal{}, errors.Join(err, failErr)
		}
		return models.Withdrawal{}, fmt.Errorf("settlement submission: %w", err)
	}

	return s.Complete(ctx, id, txHash)
}

func (s *WithdrawalService) Get(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	return s.storage.Withdrawal().GetWithdrawal(ctx, id, false)
}

func (s *WithdrawalService) List(ctx context.Context, userID uuid.UUID) ([]models.Withdrawal, error) {
	return s.storage.Withdrawal().ListWithdrawals(ctx, userID)
}

// advance locks the withdrawal row, checks the transition against the table
// and compare-and-sets the status.
func advance(ctx context.Context, st repository.Storage, id uuid.UUID, to models.WithdrawalStatus, txHash string) (models.Withdrawal, error) {
	w, err := st.Withdrawal().GetWithdrawal(ctx, id, true)
	if err != nil {
		return models.Withdrawal{}, err
	}

	next, err := w.Transition(to)
	if err != nil {
		return models.Withdrawal{}, err
	}

	return st.Withdrawal().UpdateStatus(ctx, w.ID, w.Status, next.Status, txHash)
}
