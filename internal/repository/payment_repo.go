package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepdeck/payments-backend/internal/models"
)

// ErrNotFound is returned when no payment record exists for the given key.
// Callers are expected to fall through to candidate matching or synthesis,
// not to treat this as fatal.
var ErrNotFound = errors.New("payment record not found")

// ErrDuplicateTransaction is returned when a create or rebind collides with a
// record that already holds the target transaction id.
var ErrDuplicateTransaction = errors.New("transaction id already recorded")

// ErrInvalidTransition is returned when a status update would leave the
// pending → confirmed|failed state machine (e.g. confirming a failed record).
var ErrInvalidTransition = errors.New("invalid payment status transition")

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

func (r *PaymentRepo) Create(ctx context.Context, p *models.PaymentRecord) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payments (transaction_id, user_id, amount_cents, token, recipient, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, p.TransactionID, p.UserID, p.AmountCents, p.Token, p.Recipient, p.Status, p.FailureReason).Scan(&p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateTransaction
	}
	return err
}

func (r *PaymentRepo) Get(ctx context.Context, transactionID string) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := r.pool.QueryRow(ctx, `
		SELECT transaction_id, user_id, amount_cents, token, recipient, status, failure_reason, created_at, updated_at
		FROM payments WHERE transaction_id = $1
	`, transactionID).Scan(&p.TransactionID, &p.UserID, &p.AmountCents, &p.Token, &p.Recipient, &p.Status, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetStatus moves a record from pending to the given terminal status via a
// single conditional UPDATE, so concurrent callers cannot double-transition.
// Setting a status the record already has is a no-op success; any other
// transition out of a terminal status is ErrInvalidTransition.
func (r *PaymentRepo) SetStatus(ctx context.Context, transactionID, status string, reason *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = $2, failure_reason = COALESCE($3, failure_reason), updated_at = now()
		WHERE transaction_id = $1 AND status = 'pending'
	`, transactionID, status, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// No pending row matched: distinguish missing record, idempotent repeat,
	// and an illegal transition out of the other terminal state.
	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM payments WHERE transaction_id = $1`, transactionID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if current == status {
		return nil
	}
	return ErrInvalidTransition
}

// Rebind re-keys a pending record from a placeholder id to the real chain
// signature. Atomic with respect to concurrent lookups by either id: the key
// changes in one conditional UPDATE.
func (r *PaymentRepo) Rebind(ctx context.Context, oldTransactionID, newTransactionID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET transaction_id = $2, updated_at = now()
		WHERE transaction_id = $1 AND status = 'pending'
	`, oldTransactionID, newTransactionID)
	if isUniqueViolation(err) {
		return ErrDuplicateTransaction
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingByUser returns a user's pending records, most recent first.
// The lookback-window policy itself lives in the matcher.
func (r *PaymentRepo) ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]*models.PaymentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT transaction_id, user_id, amount_cents, token, recipient, status, failure_reason, created_at, updated_at
		FROM payments
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 20
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PaymentRecord
	for rows.Next() {
		var p models.PaymentRecord
		if err := rows.Scan(&p.TransactionID, &p.UserID, &p.AmountCents, &p.Token, &p.Recipient, &p.Status, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}

// ExpirePendingBefore marks pending records created before cutoff as failed.
// Used by the sweep worker; returns the number of records expired.
func (r *PaymentRepo) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = 'failed', failure_reason = 'expired', updated_at = now()
		WHERE status = 'pending' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
