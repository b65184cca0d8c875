package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paylance/ledger/internal/apperrors"
	"github.com/paylance/ledger/internal/models"
)

type WithdrawalRepo struct {
	DB DBTX
}

const withdrawalColumns = "id, user_id, amount, currency, status, destination, tx_hash, created_at, modified_at"

func (r *WithdrawalRepo) CreateWithdrawal(ctx context.Context, w models.Withdrawal) (models.Withdrawal, error) {
	const createWithdrawal = `
	INSERT INTO withdrawals (user_id, amount, currency, status, destination)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING ` + withdrawalColumns

	rows, _ := r.DB.Query(ctx, createWithdrawal, w.UserID, w.Amount, w.Currency, w.Status.String(), w.Destination)
	created, err := pgx.CollectOneRow(rows, rowToWithdrawal)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

func (r *WithdrawalRepo) GetWithdrawal(ctx context.Context, id uuid.UUID, forUpdate bool) (models.Withdrawal, error) {
	getWithdrawal := `
	SELECT ` + withdrawalColumns + ` FROM withdrawals
	WHERE id = $1
	`
	if forUpdate {
		getWithdrawal += " FOR UPDATE"
	}

	rows, _ := r.DB.Query(ctx, getWithdrawal, id)
	w, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, pgx.ErrNoRows):
		return w, apperrors.ErrWithdrawalNotFound
	default:
		return w, fmt.Errorf("db error: %w", err)
	}
}

func (r *WithdrawalRepo) ListWithdrawals(ctx context.Context, userID uuid.UUID) ([]models.Withdrawal, error) {
	const listWithdrawals = `
	SELECT ` + withdrawalColumns + ` FROM withdrawals
	WHERE user_id = $1
	ORDER BY created_at DESC
	`

	rows, _ := r.DB.Query(ctx, listWithdrawals, userID)
	withdrawals, err := pgx.CollectRows(rows, rowToWithdrawal)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return withdrawals, nil
}

func (r *WithdrawalRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.WithdrawalStatus, txHash string) (models.Withdrawal, error) {
	// the status guard is a compare-and-set: a transition raced by another
	// one simply matches no row
	const updateStatus = `
	UPDATE withdrawals
	SET status = $3,
	    tx_hash = CASE WHEN $4 = '' THEN tx_hash ELSE $4 END,
	    modified_at = now()
	WHERE id = $1 AND status = $2
	RETURNING ` + withdrawalColumns

	rows, _ := r.DB.Query(ctx, updateStatus, id, from.String(), to.String(), txHash)
	w, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, pgx.ErrNoRows):
		return w, apperrors.ErrWithdrawalNotFound
	default:
		return w, fmt.Errorf("db error: %w", err)
	}
}

func rowToWithdrawal(row pgx.CollectableRow) (models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(
		&w.ID, &w.UserID, &w.Amount, &w.Currency, &w.Status,
		&w.Destination, &w.TxHash, &w.CreatedAt, &w.ModifiedAt,
	)
	return w, err
}
