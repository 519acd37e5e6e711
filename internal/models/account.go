package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is the product user as seen by the payments subsystem. The credit
// balance is the aggregate of credit_ledger entries and is mutated only by the
// ledger repository; everything else is owned by the product's profile CRUD.
type Account struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	CreditBalance int       `json:"credit_balance"`
	FreeInterview bool      `json:"free_interview_used"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
