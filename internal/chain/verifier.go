package chain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// VerifyRequest asks whether a claimed transaction represents a valid payment.
// Signature is mandatory; the expected fields are hints used to validate the
// on-chain transfer against what the client claims it paid, never to look up
// internal records.
type VerifyRequest struct {
	Signature           string
	ExpectedAmountCents int64
	ExpectedToken       string
	UserID              uuid.UUID
}

// VerifyResult is the outcome of an on-chain check. Verified=false with a
// Reason means the transaction was definitively rejected (missing, failed,
// wrong recipient/token, underpaid); transport problems are returned as a
// *TransientError instead so callers can retry.
type VerifyResult struct {
	Verified       bool
	AmountCents    int64
	Token          string
	CreditsToGrant int
	Reason         string
}

// Verifier confirms payments against the external ledger. Implementations are
// pure reads; they never mutate internal state.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
}

// TransientError wraps a network-level failure talking to the chain RPC.
// It is distinguishable from "verified as invalid" so the orchestrator can
// return a retryable failure without mutating any record.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return "chain: transient error during " + e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
