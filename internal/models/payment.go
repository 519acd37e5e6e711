package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment status enums. Transitions are monotonic: pending → confirmed or
// pending → failed. A terminal status is never re-entered.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusFailed    = "failed"
)

// Accepted payment tokens.
const (
	TokenUSDC  = "USDC"
	TokenUSDT  = "USDT"
	TokenPYUSD = "PYUSD"
	TokenCASH  = "CASH"
)

// ValidTokens is the set of token symbols the platform accepts.
var ValidTokens = map[string]bool{
	TokenUSDC:  true,
	TokenUSDT:  true,
	TokenPYUSD: true,
	TokenCASH:  true,
}

// PaymentRecord is the durable record of one purchase attempt, keyed by the
// on-chain transaction signature. Before the real signature is known the key
// is a locally generated placeholder (see NewPlaceholderID). Records are never
// deleted; they are the audit trail.
type PaymentRecord struct {
	TransactionID string     `json:"transaction_id"`
	UserID        uuid.UUID  `json:"user_id"`
	AmountCents   int64      `json:"amount_cents"`
	Token         string     `json:"token"`
	Recipient     string     `json:"recipient"`
	Status        string     `json:"status"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsPlaceholder reports whether the record key is a local placeholder rather
// than a real chain signature.
func (p *PaymentRecord) IsPlaceholder() bool {
	return len(p.TransactionID) > 8 && p.TransactionID[:8] == "pending-"
}

// NewPlaceholderID returns a transaction-id placeholder for a record created
// at purchase-request time, before the wallet has produced a signature.
func NewPlaceholderID() string {
	return "pending-" + uuid.New().String()
}
