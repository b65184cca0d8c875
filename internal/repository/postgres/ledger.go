package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/paylance/ledger/internal/apperrors"
	"github.com/paylance/ledger/internal/models"
	"github.com/paylance/ledger/internal/repository"
)

type LedgerRepo struct {
	DB DBTX
}

const balanceColumns = "id, user_id, currency, available, held, created_at, updated_at"

func (r *LedgerRepo) CreateBalance(ctx context.Context, userID uuid.UUID, currency string) (models.Balance, error) {
	const createBalance = `
	INSERT INTO balances (user_id, currency)
	VALUES ($1, $2)
	ON CONFLICT (user_id, currency) DO NOTHING
	RETURNING ` + balanceColumns

	rows, _ := r.DB.Query(ctx, createBalance, userID, currency)
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, pgx.ErrNoRows):
		// pair already exists, return the current row
		return r.GetBalance(ctx, userID, currency, false)
	default:
		return balance, fmt.Errorf("db error: %w", err)
	}
}

func (r *LedgerRepo) GetBalance(ctx context.Context, userID uuid.UUID, currency string, forUpdate bool) (models.Balance, error) {
	getBalance := `
	SELECT ` + balanceColumns + ` FROM balances
	WHERE user_id = $1 AND currency = $2
	`
	if forUpdate {
		getBalance += " FOR UPDATE"
	}

	rows, _ := r.DB.Query(ctx, getBalance, userID, currency)
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, pgx.ErrNoRows):
		return balance, apperrors.ErrBalanceNotFound
	default:
		return balance, fmt.Errorf("db error: %w", err)
	}
}

func (r *LedgerRepo) ListBalances(ctx context.Context, userID uuid.UUID) ([]models.Balance, error) {
	const listBalances = `
	SELECT ` + balanceColumns + ` FROM balances
	WHERE user_id = $1
	ORDER BY currency
	`

	rows, _ := r.DB.Query(ctx, listBalances, userID)
	balances, err := pgx.CollectRows(rows, rowToBalance)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return balances, nil
}

// ApplyDelta mutates the balance pair in a single conditional statement, so
// the amount check and the write cannot be interleaved by a concurrent caller.
func (r *LedgerRepo) ApplyDelta(ctx context.Context, userID uuid.UUID, currency string, availableDelta, heldDelta decimal.Decimal) (models.Balance, error) {
	const applyDelta = `
	UPDATE balances
	SET available = available + $3,
	    held = held + $4,
	    updated_at = now()
	WHERE user_id = $1 AND currency = $2
	  AND available + $3 >= 0
	  AND held + $4 >= 0
	RETURNING ` + balanceColumns

	rows, _ := r.DB.Query(ctx, applyDelta, userID, currency, availableDelta, heldDelta)
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, pgx.ErrNoRows):
		// either the row does not exist or a column would go negative
		return balance, r.explainRejectedDelta(ctx, userID, currency, availableDelta, heldDelta)
	default:
		return balance, fmt.Errorf("db error: %w", err)
	}
}

func (r *LedgerRepo) explainRejectedDelta(ctx context.Context, userID uuid.UUID, currency string, availableDelta, heldDelta decimal.Decimal) error {
	balance, err := r.GetBalance(ctx, userID, currency, false)
	if err != nil {
		return err
	}

	if balance.Available.Add(availableDelta).IsNegative() {
		return apperrors.ErrInsufficientFunds
	}
	if balance.Held.Add(heldDelta).IsNegative() {
		return apperrors.ErrInsufficientHeld
	}

	// row moved between the update and the explain read: report the stricter error
	return apperrors.ErrInsufficientFunds
}

const transactionColumns = "id, user_id, currency, type, amount, reference_id, reference_type, description, balance_after, created_at"

func (r *LedgerRepo) CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	const createTransaction = `
	INSERT INTO balance_transactions (user_id, currency, type, amount, reference_id, reference_type, description, balance_after)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING ` + transactionColumns

	rows, _ := r.DB.Query(ctx, createTransaction,
		t.UserID, t.Currency, t.Type, t.Amount, t.Reference.ID, t.Reference.Type, t.Description, t.BalanceAfter,
	)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return created, apperrors.ErrTransactionExists
		}

		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

func (r *LedgerRepo) GetTransaction(ctx context.Context, ref models.Reference, txType string) (models.Transaction, error) {
	const getTransaction = `
	SELECT ` + transactionColumns + ` FROM balance_transactions
	WHERE reference_id = $1 AND reference_type = $2 AND type = $3
	`

	rows, _ := r.DB.Query(ctx, getTransaction, ref.ID, ref.Type, txType)
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func (r *LedgerRepo) ListTransactions(ctx context.Context, userID uuid.UUID, filter repository.TransactionFilter) ([]models.Transaction, int64, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}

	addCondition := func(condition string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(condition, len(args)))
	}

	if filter.Currency != "" {
		addCondition("currency = $%d", filter.Currency)
	}
	if filter.Type != "" {
		addCondition("type = $%d", filter.Type)
	}
	if filter.From != nil {
		addCondition("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		addCondition("created_at <= $%d", *filter.To)
	}

	whereClause := strings.Join(where, " AND ")

	countQuery := "SELECT count(*) FROM balance_transactions WHERE " + whereClause

	var total int64
	if err := r.DB.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	pageQuery := fmt.Sprintf(
		"SELECT %s FROM balance_transactions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		transactionColumns, whereClause, len(args)+1, len(args)+2,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, _ := r.DB.Query(ctx, pageQuery, args...)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	return transactions, total, nil
}

func rowToBalance(row pgx.CollectableRow) (models.Balance, error) {
	var b models.Balance
	err := row.Scan(&b.ID, &b.UserID, &b.Currency, &b.Available, &b.Held, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Currency, &t.Type, &t.Amount,
		&t.Reference.ID, &t.Reference.Type, &t.Description, &t.BalanceAfter, &t.CreatedAt,
	)
	return t, err
}
