package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepdeck/payments-backend/internal/models"
)

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// ApplyCredit grants credits for a source transaction exactly once. It runs in
// one database transaction:
//  a) Inserts the ledger entry, relying on the partial unique index on
//     credit_ledger(source_transaction_id) WHERE delta > 0 to reject repeats.
//  b) If the insert was skipped (duplicate), returns (false, nil) — the grant
//     was already applied by an earlier or concurrent call.
//  c) Otherwise increments accounts.credit_balance and stamps balance_after
//     on the new entry.
// The uniqueness check lives here, not in the orchestrator, because the
// orchestrator itself can be retried or invoked concurrently for the same
// transaction id.
func (r *LedgerRepo) ApplyCredit(ctx context.Context, userID uuid.UUID, credits int, sourceTransactionID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	entryID := uuid.New()
	var inserted uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, user_id, delta, reason, source_transaction_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_transaction_id) WHERE delta > 0 DO NOTHING
		RETURNING id
	`, entryID, userID, credits, models.LedgerReasonCreditPurchase, sourceTransactionID).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var newBalance int
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING credit_balance
	`, credits, userID).Scan(&newBalance)
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE credit_ledger SET balance_after = $1 WHERE id = $2
	`, newBalance, entryID)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *LedgerRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.CreditLedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, delta, reason, source_transaction_id, balance_after, created_at
		FROM credit_ledger WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditLedgerEntry
	for rows.Next() {
		var e models.CreditLedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.SourceTransactionID, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *LedgerRepo) GetBySourceTransactionID(ctx context.Context, sourceTransactionID string) (*models.CreditLedgerEntry, error) {
	var e models.CreditLedgerEntry
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, delta, reason, source_transaction_id, balance_after, created_at
		FROM credit_ledger WHERE source_transaction_id = $1 AND delta > 0
	`, sourceTransactionID).Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.SourceTransactionID, &e.BalanceAfter, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
