package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/paylance/ledger/internal/apperrors"
	"github.com/paylance/ledger/internal/models"
	"github.com/paylance/ledger/internal/repository"
	"github.com/paylance/ledger/internal/testutil"
)

func TestWithdrawalRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.InTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	newWithdrawal := func(userID uuid.UUID) models.Withdrawal {
		return models.Withdrawal{
			UserID:      userID,
			Amount:      decimal.NewFromInt(50),
			Currency:    models.CurrencyUSD,
			Status:      models.WithdrawalCreated,
			Destination: "GDQP2KPQGKIHYJGXNUIYOMHARUARCA7DJT5FO2FFOOKY3B2WSQHG4W37",
		}
	}

	t.Run("CreateWithdrawal", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			created, err := storage.Withdrawal().CreateWithdrawal(t.Context(), newWithdrawal(uuid.New()))

			require.NoError(t, err)
			require.NotZero(t, created.ID)
			require.Equal(t, models.WithdrawalCreated, created.Status)
			require.Empty(t, created.TxHash, "tx hash should be empty until settlement")
			require.NotZero(t, created.CreatedAt)
			require.NotZero(t, created.ModifiedAt)
		})
	})

	t.Run("GetWithdrawal", func(t *testing.T) {
		t.Run("found", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				created, err := storage.Withdrawal().CreateWithdrawal(t.Context(), newWithdrawal(uuid.New()))
				require.NoError(t, err)

				found, err := storage.Withdrawal().GetWithdrawal(t.Context(), created.ID, false)

				require.NoError(t, err)
				require.Equal(t, created.ID, found.ID)
				require.True(t, created.Amount.Equal(found.Amount))
			})
		})

		t.Run("found for update", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				created, err := storage.Withdrawal().CreateWithdrawal(t.Context(), newWithdrawal(uuid.New()))
				require.NoError(t, err)

				_, err = storage.Withdrawal().GetWithdrawal(t.Context(), created.ID, true)

				require.NoError(t, err, "select for update should work inside a transaction")
			})
		})

		t.Run("not found", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				_, err := storage.Withdrawal().GetWithdrawal(t.Context(), uuid.New(), false)

				require.ErrorIs(t, err, apperrors.ErrWithdrawalNotFound)
			})
		})
	})

	t.Run("ListWithdrawals", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()
			for range 2 {
				_, err := storage.Withdrawal().CreateWithdrawal(t.Context(), newWithdrawal(userID))
				require.NoError(t, err)
			}
			_, err := storage.Withdrawal().CreateWithdrawal(t.Context(), newWithdrawal(uuid.New()))
			require.NoError(t, err)

			withdrawals, err := storage.Withdrawal().ListWithdrawals(t.Context(), userID)

			require.NoError(t, err)
			require.Len(t, withdrawals, 2, "only the user's withdrawals should be listed")
		})
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		t.Run("matching status wins", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				created, err := storage.Withdrawal().CreateWithdrawal(t.Context(), newWithdrawal(uuid.New()))
				require.NoError(t, err)

				updated, err := storage.Withdrawal().UpdateStatus(
					t.Context(), created.ID, models.WithdrawalCreated, models.WithdrawalPendingVerification, "",
				)

				require.NoError(t, err)
				require.Equal(t, models.WithdrawalPendingVerification, updated.Status)
				require.Empty(t, updated.TxHash, "empty tx hash must keep the stored value")
			})
		})

		t.Run("stale status matches no row", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				created, err := storage.Withdrawal().CreateWithdrawal(t.Context(), newWithdrawal(uuid.New()))
				require.NoError(t, err)

				_, err = storage.Withdrawal().UpdateStatus(
					t.Context(), created.ID, models.WithdrawalPendingVerification, models.WithdrawalCompleted, "",
				)

				require.ErrorIs(t, err, apperrors.ErrWithdrawalNotFound, "compare-and-set with a stale status must not update anything")

				unchanged, err := storage.Withdrawal().GetWithdrawal(t.Context(), created.ID, false)
				require.NoError(t, err)
				require.Equal(t, models.WithdrawalCreated, unchanged.Status)
			})
		})

		t.Run("records tx hash", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				created, err := storage.Withdrawal().CreateWithdrawal(t.Context(), newWithdrawal(uuid.New()))
				require.NoError(t, err)
				_, err = storage.Withdrawal().UpdateStatus(
					t.Context(), created.ID, models.WithdrawalCreated, models.WithdrawalPendingVerification, "",
				)
				require.NoError(t, err)

				updated, err := storage.Withdrawal().UpdateStatus(
					t.Context(), created.ID, models.WithdrawalPendingVerification, models.WithdrawalCompleted, "deadbeef",
				)

				require.NoError(t, err)
				require.Equal(t, models.WithdrawalCompleted, updated.Status)
				require.Equal(t, "deadbeef", updated.TxHash)
			})
		})
	})
}
