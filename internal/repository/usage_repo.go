package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepdeck/payments-backend/internal/models"
)

type UsageRepo struct {
	pool *pgxpool.Pool
}

func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

func (r *UsageRepo) Create(ctx context.Context, u *models.UsageRecord) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO usage_records (id, user_id, action, cost, free_interview_used)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, u.ID, u.UserID, u.Action, u.Cost, u.FreeInterviewUsed).Scan(&u.CreatedAt)
}
