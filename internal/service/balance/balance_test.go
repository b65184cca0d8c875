package balance_test

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/paylance/ledger/internal/apperrors"
	"github.com/paylance/ledger/internal/models"
	"github.com/paylance/ledger/internal/repository"
	"github.com/paylance/ledger/internal/repository/postgres"
	"github.com/paylance/ledger/internal/service/balance"
	"github.com/paylance/ledger/internal/testutil"
)

func mutation(userID uuid.UUID, amount int64) balance.MutationParams {
	return balance.MutationParams{
		UserID:      userID,
		Amount:      decimal.NewFromInt(amount),
		Currency:    models.CurrencyUSD,
		Reference:   models.Reference{ID: uuid.New(), Type: models.ReferenceTypeTopUp},
		Description: "test mutation",
	}
}

func TestBalanceService_Validation(t *testing.T) {
	t.Parallel()

	service := balance.NewService(nil, nil)
	userID := uuid.New()

	tests := []struct {
		name    string
		params  balance.MutationParams
		wantErr error
	}{
		{
			name:    "zero amount",
			params:  balance.MutationParams{UserID: userID, Amount: decimal.Zero, Currency: models.CurrencyUSD, Reference: models.Reference{ID: uuid.New(), Type: models.ReferenceTypeTopUp}},
			wantErr: &apperrors.ValidationError{},
		},
		{
			name:    "negative amount",
			params:  balance.MutationParams{UserID: userID, Amount: decimal.NewFromInt(-10), Currency: models.CurrencyUSD, Reference: models.Reference{ID: uuid.New(), Type: models.ReferenceTypeTopUp}},
			wantErr: &apperrors.ValidationError{},
		},
		{
			name:    "too many fractional digits",
			params:  balance.MutationParams{UserID: userID, Amount: decimal.RequireFromString("0.000000001"), Currency: models.CurrencyUSD, Reference: models.Reference{ID: uuid.New(), Type: models.ReferenceTypeTopUp}},
			wantErr: &apperrors.ValidationError{},
		},
		{
			name:    "unsupported currency",
			params:  balance.MutationParams{UserID: userID, Amount: decimal.NewFromInt(10), Currency: "EUR", Reference: models.Reference{ID: uuid.New(), Type: models.ReferenceTypeTopUp}},
			wantErr: apperrors.ErrCurrencyUnsupported,
		},
		{
			name:    "missing reference id",
			params:  balance.MutationParams{UserID: userID, Amount: decimal.NewFromInt(10), Currency: models.CurrencyUSD, Reference: models.Reference{Type: models.ReferenceTypeTopUp}},
			wantErr: &apperrors.ValidationError{},
		},
		{
			name:    "missing reference type",
			params:  balance.MutationParams{UserID: userID, Amount: decimal.NewFromInt(10), Currency: models.CurrencyUSD, Reference: models.Reference{ID: uuid.New()}},
			wantErr: &apperrors.ValidationError{},
		},
		{
			name:    "empty user",
			params:  balance.MutationParams{Amount: decimal.NewFromInt(10), Currency: models.CurrencyUSD, Reference: models.Reference{ID: uuid.New(), Type: models.ReferenceTypeTopUp}},
			wantErr: &apperrors.BadRequestError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CreditAvailable(t.Context(), tt.params)

			require.Error(t, err)
			switch want := tt.wantErr.(type) {
			case *apperrors.ValidationError:
				var validationErr *apperrors.ValidationError
				require.ErrorAs(t, err, &validationErr, "expected a validation error, got %v", err)
			case *apperrors.BadRequestError:
				var badRequestErr *apperrors.BadRequestError
				require.ErrorAs(t, err, &badRequestErr, "expected a bad request error, got %v", err)
			default:
				require.ErrorIs(t, err, want)
			}
		})
	}
}

func TestBalanceService_Mutations(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, fn func(service *balance.BalanceService, storage repository.Storage)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			fn(balance.NewService(storage, nil), storage)
		})
	}

	t.Run("credit creates balance row lazily", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService, storage repository.Storage) {
			userID := uuid.New()

			got, err := service.CreditAvailable(t.Context(), mutation(userID, 100))

			require.NoError(t, err)
			require.True(t, got.Available.Equal(decimal.NewFromInt(100)))
			require.True(t, got.Held.IsZero())
		})
	})

	t.Run("debit against missing balance is insufficient funds", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService, storage repository.Storage) {
			_, err := service.DebitAvailable(t.Context(), mutation(uuid.New(), 10))

			require.ErrorIs(t, err, apperrors.ErrInsufficientFunds, "debit must never create the balance row")
		})
	})

	t.Run("release against missing balance is insufficient held", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService, storage repository.Storage) {
			p := balance.MutationParams{
				UserID:    uuid.New(),
				Amount:    decimal.NewFromInt(10),
				Currency:  models.CurrencyUSD,
				Reference: models.Reference{ID: uuid.New(), Type: models.ReferenceTypeWithdrawal},
			}

			_, err := service.ReleaseHold(t.Context(), p, true)
			require.ErrorIs(t, err, apperrors.ErrInsufficientHeld, "a release draws from held, not available")

			_, err = service.ReleaseHold(t.Context(), p, false)
			require.ErrorIs(t, err, apperrors.ErrInsufficientHeld)
		})
	})

	t.Run("hold moves funds and conserves total", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService, storage repository.Storage) {
			userID := uuid.New()
			_, err := service.CreditAvailable(t.Context(), mutation(userID, 100))
			require.NoError(t, err)

			got, err := service.HoldAmount(t.Context(), balance.MutationParams{
				UserID:    userID,
				Amount:    decimal.NewFromInt(40),
				Currency:  models.CurrencyUSD,
				Reference: models.Reference{ID: uuid.New(), Type: models.ReferenceTypeWithdrawal},
			})

			require.NoError(t, err)
			require.True(t, got.Available.Equal(decimal.NewFromInt(60)))
			require.True(t, got.Held.Equal(decimal.NewFromInt(40)))
			require.True(t, got.Total().Equal(decimal.NewFromInt(100)), "hold must not change the total")
		})
	})

	t.Run("release back to available", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService, storage repository.Storage) {
			userID := uuid.New()
			_, err := service.CreditAvailable(t.Context(), mutation(userID, 100))
			require.NoError(t, err)

			withdrawalRef := models.Reference{ID: uuid.New(), Type: models.ReferenceTypeWithdrawal}
			_, err = service.HoldAmount(t.Context(), balance.MutationParams{
				UserID: userID, Amount: decimal.NewFromInt(40), Currency: models.CurrencyUSD, Reference: withdrawalRef,
			})
			require.NoError(t, err)

			got, err := service.ReleaseHold(t.Context(), balance.MutationParams{
				UserID: userID, Amount: decimal.NewFromInt(40), Currency: models.CurrencyUSD, Reference: withdrawalRef,
			}, true)

			require.NoError(t, err)
			require.True(t, got.Available.Equal(decimal.NewFromInt(100)), "release must restore available")
			require.True(t, got.Held.IsZero())
		})
	})

	t.Run("release out of the ledger", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService, storage repository.Storage) {
			userID := uuid.New()
			_, err := service.CreditAvailable(t.Context(), mutation(userID, 100))
			require.NoError(t, err)

			withdrawalRef := models.Reference{ID: uuid.New(), Type: models.ReferenceTypeWithdrawal}
			_, err = service.HoldAmount(t.Context(), balance.MutationParams{
				UserID: userID, Amount: decimal.NewFromInt(40), Currency: models.CurrencyUSD, Reference: withdrawalRef,
			})
			require.NoError(t, err)

			got, err := service.ReleaseHold(t.Context(), balance.MutationParams{
				UserID: userID, Amount: decimal.NewFromInt(40), Currency: models.CurrencyUSD, Reference: withdrawalRef,
			}, false)

			require.NoError(t, err)
			require.True(t, got.Available.Equal(decimal.NewFromInt(60)), "settled funds must leave the ledger")
			require.True(t, got.Held.IsZero())
		})
	})

	t.Run("failed debit leaves balance and log unchanged", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService, storage repository.Storage) {
			userID := uuid.New()
			_, err := service.CreditAvailable(t.Context(), mutation(userID, 50))
			require.NoError(t, err)

			_, err = service.DebitAvailable(t.Context(), mutation(userID, 100))
			require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

			balances, err := service.GetUserBalances(t.Context(), userID, models.CurrencyUSD)
			require.NoError(t, err)
			require.Len(t, balances, 1)
			require.True(t, balances[0].Available.Equal(decimal.NewFromInt(50)), "failed mutation must not move funds")

			history, err := service.GetTransactionHistory(t.Context(), userID, balance.HistoryParams{})
			require.NoError(t, err)
			require.Len(t, history.Transactions, 1, "failed mutation must not append a ledger entry")
		})
	})

	t.Run("replayed mutation applies once", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService, storage repository.Storage) {
			userID := uuid.New()
			p := mutation(userID, 100)

			first, err := service.CreditAvailable(t.Context(), p)
			require.NoError(t, err)

			second, err := service.CreditAvailable(t.Context(), p)

			require.NoError(t, err, "replay with the same reference must succeed")
			require.True(t, first.Available.Equal(second.Available), "replay must report the committed balance")

			history, err := service.GetTransactionHistory(t.Context(), userID, balance.HistoryParams{})
			require.NoError(t, err)
			require.Len(t, history.Transactions, 1, "replay must not append a second ledger entry")
		})
	})

	t.Run("same reference different types apply separately", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService, storage repository.Storage) {
			userID := uuid.New()
			_, err := service.CreditAvailable(t.Context(), mutation(userID, 100))
			require.NoError(t, err)

			withdrawalRef := models.Reference{ID: uuid.New(), Type: models.ReferenceTypeWithdrawal}
			p := balance.MutationParams{
				UserID: userID, Amount: decimal.NewFromInt(40), Currency: models.CurrencyUSD, Reference: withdrawalRef,
			}

			_, err = service.HoldAmount(t.Context(), p)
			require.NoError(t, err)
			got, err := service.ReleaseHold(t.Context(), p, true)
			require.NoError(t, err)

			require.True(t, got.Available.Equal(decimal.NewFromInt(100)))

			history, err := service.GetTransactionHistory(t.Context(), userID, balance.HistoryParams{})
			require.NoError(t, err)
			require.Len(t, history.Transactions, 3, "hold and release with the same reference are distinct entries")
		})
	})

	t.Run("ledger entries snapshot the balance after", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService, storage repository.Storage) {
			userID := uuid.New()
			_, err := service.CreditAvailable(t.Context(), mutation(userID, 100))
			require.NoError(t, err)
			_, err = service.DebitAvailable(t.Context(), balance.MutationParams{
				UserID: userID, Amount: decimal.NewFromInt(30), Currency: models.CurrencyUSD,
				Reference: models.Reference{ID: uuid.New(), Type: models.ReferenceTypeTopUp},
			})
			require.NoError(t, err)

			history, err := service.GetTransactionHistory(t.Context(), userID, balance.HistoryParams{})

			require.NoError(t, err)
			require.Len(t, history.Transactions, 2)
			require.True(t, history.Transactions[0].BalanceAfter.Equal(decimal.NewFromInt(70)), "newest entry snapshots available after the debit")
			require.True(t, history.Transactions[1].BalanceAfter.Equal(decimal.NewFromInt(100)))
		})
	})
}

// Runs against committed data on the pool: row locks only exclude each other
// across real transactions.
func TestBalanceService_ConcurrentDebits(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	storage := postgres.NewStorage(pg.Pool)
	service := balance.NewService(storage, nil)

	userID := uuid.New()
	_, err := service.CreditAvailable(t.Context(), mutation(userID, 100))
	require.NoError(t, err)

	debit := func() error {
		_, err := service.DebitAvailable(t.Context(), mutation(userID, 60))
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = debit()
		}()
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
			failed++
		}
	}
	require.Equal(t, 1, failed, "exactly one of two overdrawing debits must fail")

	balances, err := service.GetUserBalances(t.Context(), userID, models.CurrencyUSD)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.True(t, balances[0].Available.Equal(decimal.NewFromInt(40)), "final balance must reflect exactly one debit, got %s", balances[0].Available)
}

func TestBalanceService_GetUserBalances(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, fn func(service *balance.BalanceService)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			fn(balance.NewService(postgres.NewStorage(tx), nil))
		})
	}

	t.Run("all currencies", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService) {
			userID := uuid.New()
			_, err := service.CreditAvailable(t.Context(), mutation(userID, 100))
			require.NoError(t, err)
			_, err = service.CreditAvailable(t.Context(), balance.MutationParams{
				UserID: userID, Amount: decimal.NewFromInt(5), Currency: models.CurrencyXLM,
				Reference: models.Reference{ID: uuid.New(), Type: models.ReferenceTypeTopUp},
			})
			require.NoError(t, err)

			balances, err := service.GetUserBalances(t.Context(), userID, "")

			require.NoError(t, err)
			require.Len(t, balances, 2)
		})
	})

	t.Run("missing single currency is an empty list", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService) {
			balances, err := service.GetUserBalances(t.Context(), uuid.New(), models.CurrencyUSD)

			require.NoError(t, err, "a user with no funds has no balance rows and that is fine")
			require.Empty(t, balances)
		})
	})

	t.Run("unsupported currency", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService) {
			_, err := service.GetUserBalances(t.Context(), uuid.New(), "EUR")

			require.ErrorIs(t, err, apperrors.ErrCurrencyUnsupported)
		})
	})

	t.Run("empty user", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService) {
			_, err := service.GetUserBalances(t.Context(), uuid.Nil, "")

			var badRequestErr *apperrors.BadRequestError
			require.ErrorAs(t, err, &badRequestErr)
		})
	})
}

func TestBalanceService_GetTransactionHistory(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, fn func(service *balance.BalanceService)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			fn(balance.NewService(postgres.NewStorage(tx), nil))
		})
	}

	t.Run("pagination", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService) {
			userID := uuid.New()
			for range 5 {
				_, err := service.CreditAvailable(t.Context(), mutation(userID, 10))
				require.NoError(t, err)
			}

			history, err := service.GetTransactionHistory(t.Context(), userID, balance.HistoryParams{Page: 2, Limit: 2})

			require.NoError(t, err)
			require.Len(t, history.Transactions, 2)
			require.Equal(t, 2, history.Pagination.Page)
			require.Equal(t, 2, history.Pagination.Limit)
			require.EqualValues(t, 5, history.Pagination.Total)
			require.EqualValues(t, 3, history.Pagination.Pages, "5 entries over pages of 2 is 3 pages")
		})
	})

	t.Run("defaults", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService) {
			history, err := service.GetTransactionHistory(t.Context(), uuid.New(), balance.HistoryParams{})

			require.NoError(t, err)
			require.Equal(t, 1, history.Pagination.Page)
			require.Equal(t, balance.DefaultLimit, history.Pagination.Limit)
			require.EqualValues(t, 0, history.Pagination.Total)
		})
	})

	t.Run("filter by type", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService) {
			userID := uuid.New()
			_, err := service.CreditAvailable(t.Context(), mutation(userID, 100))
			require.NoError(t, err)
			_, err = service.HoldAmount(t.Context(), balance.MutationParams{
				UserID: userID, Amount: decimal.NewFromInt(40), Currency: models.CurrencyUSD,
				Reference: models.Reference{ID: uuid.New(), Type: models.ReferenceTypeWithdrawal},
			})
			require.NoError(t, err)

			history, err := service.GetTransactionHistory(t.Context(), userID, balance.HistoryParams{Type: models.TransactionTypeHold})

			require.NoError(t, err)
			require.Len(t, history.Transactions, 1)
			require.Equal(t, models.TransactionTypeHold, history.Transactions[0].Type)
		})
	})

	t.Run("out of range params", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService) {
			tests := []struct {
				name   string
				params balance.HistoryParams
			}{
				{name: "page too big", params: balance.HistoryParams{Page: balance.MaxPage + 1}},
				{name: "page negative", params: balance.HistoryParams{Page: -1}},
				{name: "limit too big", params: balance.HistoryParams{Limit: balance.MaxLimit + 1}},
				{name: "limit negative", params: balance.HistoryParams{Limit: -1}},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					_, err := service.GetTransactionHistory(t.Context(), uuid.New(), tt.params)

					var validationErr *apperrors.ValidationError
					require.ErrorAs(t, err, &validationErr)
				})
			}
		})
	})

	t.Run("unsupported filters", func(t *testing.T) {
		inTx(t, func(service *balance.BalanceService) {
			_, err := service.GetTransactionHistory(t.Context(), uuid.New(), balance.HistoryParams{Currency: "EUR"})
			require.ErrorIs(t, err, apperrors.ErrCurrencyUnsupported)

			_, err = service.GetTransactionHistory(t.Context(), uuid.New(), balance.HistoryParams{Type: "whatever"})
			require.ErrorIs(t, err, apperrors.ErrTransactionTypeUnsupported)
		})
	})
}
