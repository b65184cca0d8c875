package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/paylance/ledger/internal/apperrors"
	"github.com/paylance/ledger/internal/handlers/render"
	"github.com/paylance/ledger/internal/handlers/userctx"
	"github.com/paylance/ledger/internal/logger"
	"github.com/paylance/ledger/internal/service/balance"
)

func handleListBalances(balanceService balanceService, l logger.Logger) http.Handler {
	type item struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Held      string `json:"held"`
		Total     string `json:"total"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		balances, err := balanceService.GetUserBalances(r.Context(), userID, r.URL.Query().Get("currency"))

		switch {
		case err == nil:
			items := make([]item, 0, len(balances))
			for _, b := range balances {
				items = append(items, item{
					Currency:  b.Currency,
					Available: b.Available.StringFixed(2),
					Held:      b.Held.StringFixed(2),
					Total:     b.Total().StringFixed(2),
				})
			}
			render.JSON(w, items)
		case errors.Is(err, apperrors.ErrCurrencyUnsupported):
			render.FieldError(w, "currency", "is not supported")
		default:
			l.Error("Failed to list balances", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleTransactionHistory(balanceService balanceService, l logger.Logger) http.Handler {
	type transaction struct {
		ID            string    `json:"id"`
		Type          string    `json:"type"`
		Amount        string    `json:"amount"`
		Currency      string    `json:"currency"`
		ReferenceType string    `json:"reference_type"`
		ReferenceID   string    `json:"reference_id"`
		BalanceAfter  string    `json:"balance_after"`
		CreatedAt     time.Time `json:"created_at"`
	}

	type pagination struct {
		Page  int   `json:"page"`
		Limit int   `json:"limit"`
		Total int64 `json:"total"`
		Pages int64 `json:"pages"`
	}

	type response struct {
		Transactions []transaction `json:"transactions"`
		Pagination   pagination    `json:"pagination"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		params, err := parseHistoryParams(w, r)
		if err != nil {
			return
		}

		history, err := balanceService.GetTransactionHistory(r.Context(), userID, params)

		var validationErr *apperrors.ValidationError
		switch {
		case err == nil:
			transactions := make([]transaction, 0, len(history.Transactions))
			for _, t := range history.Transactions {
				transactions = append(transactions, transaction{
					ID:            t.ID.String(),
					Type:          t.Type,
					Amount:        t.Amount.StringFixed(2),
					Currency:      t.Currency,
					ReferenceType: t.Reference.Type,
					ReferenceID:   t.Reference.ID.String(),
					BalanceAfter:  t.BalanceAfter.StringFixed(2),
					CreatedAt:     t.CreatedAt,
				})
			}
			render.JSON(w, response{
				Transactions: transactions,
				Pagination: pagination{
					Page:  history.Pagination.Page,
					Limit: history.Pagination.Limit,
					Total: history.Pagination.Total,
					Pages: history.Pagination.Pages,
				},
			})
		case errors.As(err, &validationErr):
			render.FieldError(w, validationErr.Field, validationErr.Message)
		case errors.Is(err, apperrors.ErrCurrencyUnsupported):
			render.FieldError(w, "currency", "is not supported")
		case errors.Is(err, apperrors.ErrTransactionTypeUnsupported):
			render.FieldError(w, "type", "is not supported")
		default:
			l.Error("Failed to get transaction history", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// parseHistoryParams reads the filter query parameters. Writes the error
// response itself so handlers can just return.
func parseHistoryParams(w http.ResponseWriter, r *http.Request) (balance.HistoryParams, error) {
	query := r.URL.Query()
	params := balance.HistoryParams{
		Currency: query.Get("currency"),
		Type:     query.Get("type"),
	}

	parseInt := func(name string, dst *int) error {
		raw := query.Get(name)
		if raw == "" {
			return nil
		}

		value, err := strconv.Atoi(raw)
		if err != nil {
			render.FieldError(w, name, "must be an integer")
			return err
		}
		*dst = value
		return nil
	}

	if err := parseInt("page", &params.Page); err != nil {
		return params, err
	}
	if err := parseInt("limit", &params.Limit); err != nil {
		return params, err
	}

	parseTime := func(name string, dst **time.Time) error {
		raw := query.Get(name)
		if raw == "" {
			return nil
		}

		value, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			render.FieldError(w, name, "must be an RFC 3339 timestamp")
			return err
		}
		*dst = &value
		return nil
	}

	if err := parseTime("from", &params.From); err != nil {
		return params, err
	}
	if err := parseTime("to", &params.To); err != nil {
		return params, err
	}

	return params, nil
}
