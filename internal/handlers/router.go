package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/paylance/ledger/internal/handlers/middleware"
	"github.com/paylance/ledger/internal/logger"
	"github.com/paylance/ledger/internal/models"
	"github.com/paylance/ledger/internal/service/balance"
	"github.com/paylance/ledger/internal/service/withdrawal"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	balanceService balanceService,
	withdrawalService withdrawalService,
	identityMiddleware func(http.Handler) http.Handler,
	logger logger.Logger,
) http.Handler {
	withIdentity := func(h http.Handler) http.Handler {
		return identityMiddleware(h)
	}

	apiledger := http.NewServeMux()

	apiledger.Handle("GET /balances", withIdentity(handleListBalances(balanceService, logger)))
	apiledger.Handle("GET /balances/transactions", withIdentity(handleTransactionHistory(balanceService, logger)))
	apiledger.Handle("POST /withdrawals", withIdentity(handleCreateWithdrawal(withdrawalService, logger)))
	apiledger.Handle("GET /withdrawals", withIdentity(handleListWithdrawals(withdrawalService, logger)))
	apiledger.Handle("POST /withdrawals/{id}/cancel", withIdentity(handleCancelWithdrawal(withdrawalService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/ledger/", http.StripPrefix("/api/ledger", apiledger))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type balanceService interface {
	// List balances for user; currency narrows the result to one row.
	// Has to return apperrors.ErrCurrencyUnsupported for an unknown currency
	GetUserBalances(ctx context.Context, userID uuid.UUID, currency string) ([]models.Balance, error)

	// Ledger entries ordered by created_at descending
	// Out of range page or limit has to fail with apperrors.ValidationError
	GetTransactionHistory(ctx context.Context, userID uuid.UUID, p balance.HistoryParams) (balance.History, error)
}

type withdrawalService interface {
	// Create withdrawal and place the hold
	// Short available funds has to fail with apperrors.ErrInsufficientFunds
	Create(ctx context.Context, p withdrawal.CreateParams) (models.Withdrawal, error)

	Get(ctx context.Context, id uuid.UUID) (models.Withdrawal, error)
	List(ctx context.Context, userID uuid.UUID) ([]models.Withdrawal, error)

	// Cancel before settlement
	// A finished withdrawal has to fail with apperrors.InvalidStateTransitionError
	Cancel(ctx context.Context, id uuid.UUID) (models.Withdrawal, error)
}
