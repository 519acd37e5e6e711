package models

import (
	"time"

	"github.com/google/uuid"
)

// Usage action enums.
const (
	UsageActionCreditPurchase = "credit_purchase"
)

// UsageRecord is a fire-and-forget audit entry written by the usage tracker.
// Cost is negative for credit grants (credits flowing into the account) and
// positive for consumption.
type UsageRecord struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	Action            string    `json:"action"`
	Cost              int       `json:"cost"`
	FreeInterviewUsed bool      `json:"free_interview_used"`
	CreatedAt         time.Time `json:"created_at"`
}
