package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paylance/ledger/internal/apperrors"
	"github.com/paylance/ledger/internal/handlers/render"
	"github.com/paylance/ledger/internal/handlers/userctx"
	"github.com/paylance/ledger/internal/logger"
	"github.com/paylance/ledger/internal/models"
	"github.com/paylance/ledger/internal/service/withdrawal"
)

type withdrawalResponse struct {
	ID          string    `json:"id"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Destination string    `json:"destination"`
	TxHash      string    `json:"tx_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toWithdrawalResponse(w models.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:          w.ID.String(),
		Amount:      w.Amount.StringFixed(2),
		Currency:    w.Currency,
		Status:      w.Status.String(),
		Destination: w.Destination,
		TxHash:      w.TxHash,
		CreatedAt:   w.CreatedAt,
	}
}

func handleCreateWithdrawal(withdrawalService withdrawalService, l logger.Logger) http.Handler {
	type request struct {
		Amount      decimal.Decimal `json:"amount" validate:"required"`
		Currency    string          `json:"currency" validate:"required"`
		Destination string          `json:"destination" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		created, err := withdrawalService.Create(r.Context(), withdrawal.CreateParams{
			UserID:      userID,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Destination: req.Destination,
		})

		var validationErr *apperrors.ValidationError
		switch {
		case err == nil:
			render.JSONWithStatus(w, toWithdrawalResponse(created), http.StatusCreated)
		case errors.As(err, &validationErr):
			render.FieldError(w, validationErr.Field, validationErr.Message)
		case errors.Is(err, apperrors.ErrCurrencyUnsupported):
			render.FieldError(w, "currency", "is not supported")
		case errors.Is(err, apperrors.ErrInsufficientFunds):
			render.ServiceError(w, "Insufficient funds", http.StatusConflict)
		default:
			l.Error("Failed to create withdrawal", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListWithdrawals(withdrawalService withdrawalService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		withdrawals, err := withdrawalService.List(r.Context(), userID)

		switch err {
		case nil:
			items := make([]withdrawalResponse, 0, len(withdrawals))
			for _, wd := range withdrawals {
				items = append(items, toWithdrawalResponse(wd))
			}
			render.JSON(w, items)
		default:
			l.Error("Failed to list withdrawals", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleCancelWithdrawal(withdrawalService withdrawalService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.FieldError(w, "id", "must be a valid UUID")
			return
		}

		// cancellation is only allowed for the owner
		existing, err := withdrawalService.Get(r.Context(), id)
		if err != nil || existing.UserID != userID {
			render.ServiceError(w, "Withdrawal not found", http.StatusNotFound)
			return
		}

		canceled, err := withdrawalService.Cancel(r.Context(), id)

		var transitionErr *apperrors.InvalidStateTransitionError
		switch {
		case err == nil:
			render.JSON(w, toWithdrawalResponse(canceled))
		case errors.As(err, &transitionErr):
			render.ServiceError(w, "Withdrawal can no longer be canceled", http.StatusConflict)
		case errors.Is(err, apperrors.ErrWithdrawalNotFound):
			render.ServiceError(w, "Withdrawal not found", http.StatusNotFound)
		default:
			l.Error("Failed to cancel withdrawal", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
