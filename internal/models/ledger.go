package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit ledger reason enums.
const (
	LedgerReasonCreditPurchase = "credit_purchase"
)

// CreditLedgerEntry is an append-only balance mutation. At most one entry with
// positive delta exists per source_transaction_id; that uniqueness is enforced
// by the database, not by callers.
type CreditLedgerEntry struct {
	ID                  uuid.UUID `json:"id"`
	UserID              uuid.UUID `json:"user_id"`
	Delta               int       `json:"delta"`
	Reason              string    `json:"reason"`
	SourceTransactionID string    `json:"source_transaction_id"`
	BalanceAfter        *int      `json:"balance_after,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}
