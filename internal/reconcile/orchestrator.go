package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/prepdeck/payments-backend/internal/chain"
	"github.com/prepdeck/payments-backend/internal/models"
	"github.com/prepdeck/payments-backend/internal/repository"
	"github.com/prepdeck/payments-backend/internal/usage"
)

// ErrVerificationFailed means the on-chain check did not confirm the claimed
// payment. The located record (if any) has been marked failed.
var ErrVerificationFailed = errors.New("payment verification failed")

// ErrDatabaseUpdate means a status or credit mutation failed after the payment
// was verified on chain. The overall result is failure even though the payment
// is real: under-crediting with a support ticket beats losing the record of
// payment. The confirmed record remains as the audit trail.
var ErrDatabaseUpdate = errors.New("database update failed after verified payment")

// PaymentStore is the record-store subset the orchestrator needs.
type PaymentStore interface {
	Get(ctx context.Context, transactionID string) (*models.PaymentRecord, error)
	Create(ctx context.Context, p *models.PaymentRecord) error
	SetStatus(ctx context.Context, transactionID, status string, reason *string) error
	Rebind(ctx context.Context, oldTransactionID, newTransactionID string) error
}

// CreditLedger applies idempotent credit grants and looks up prior ones.
type CreditLedger interface {
	ApplyCredit(ctx context.Context, userID uuid.UUID, credits int, sourceTransactionID string) (bool, error)
	GetBySourceTransactionID(ctx context.Context, sourceTransactionID string) (*models.CreditLedgerEntry, error)
}

// CandidateMatcher finds a pending record to rebind.
type CandidateMatcher interface {
	FindCandidate(ctx context.Context, userID uuid.UUID) (*models.PaymentRecord, error)
}

// UsageTracker records fire-and-forget audit entries; it never returns an
// error because usage tracking is not required for crediting correctness.
type UsageTracker interface {
	Record(ctx context.Context, e usage.Entry)
}

// VerifyPaymentInput is one verification request. UserID is uuid.Nil when the
// caller could not be authenticated.
type VerifyPaymentInput struct {
	TransactionID       string
	UserID              uuid.UUID
	ExpectedAmountCents int64
	ExpectedToken       string
}

type VerifyPaymentOutput struct {
	Success         bool
	CreditsAdded    int
	AlreadyCredited bool
	Resolution      ResolutionKind
}

// Orchestrator sequences verification, record resolution, status transition
// and crediting. Calls for the same transaction id may run concurrently
// (client retries, duplicate webhook-style calls); no in-process lock
// coordinates them. Correctness relies on the ledger's idempotency guarantee
// and the store's compare-and-set transitions.
type Orchestrator struct {
	verifier chain.Verifier
	store    PaymentStore
	matcher  CandidateMatcher
	ledger   CreditLedger
	usage    UsageTracker

	recipient        string
	minPurchaseCents int64
	creditPriceCents int64
	log              *slog.Logger
}

func NewOrchestrator(
	verifier chain.Verifier,
	store PaymentStore,
	matcher CandidateMatcher,
	ledger CreditLedger,
	usageTracker UsageTracker,
	recipient string,
	minPurchaseCents, creditPriceCents int64,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		verifier:         verifier,
		store:            store,
		matcher:          matcher,
		ledger:           ledger,
		usage:            usageTracker,
		recipient:        recipient,
		minPurchaseCents: minPurchaseCents,
		creditPriceCents: creditPriceCents,
		log:              log,
	}
}

// VerifyPayment runs the full reconciliation sequence for one claimed
// transaction: verify on chain, locate or construct exactly one payment
// record, confirm it, then credit the user at most once.
//
// The record is confirmed strictly before credits are applied, so a crash
// between the two leaves an auditable confirmed-but-uncredited record rather
// than credited-but-unconfirmed.
func (o *Orchestrator) VerifyPayment(ctx context.Context, in VerifyPaymentInput) (*VerifyPaymentOutput, error) {
	if in.TransactionID == "" {
		return nil, errors.New("transaction id is required")
	}

	// An absent expected amount defaults to the minimum purchase, so a dust
	// transfer can never verify and collect the default credit grant.
	expectedCents := in.ExpectedAmountCents
	if expectedCents <= 0 {
		expectedCents = o.minPurchaseCents
	}

	// Verifying.
	res, err := o.verifier.Verify(ctx, chain.VerifyRequest{
		Signature:           in.TransactionID,
		ExpectedAmountCents: expectedCents,
		ExpectedToken:       in.ExpectedToken,
		UserID:              in.UserID,
	})
	if err != nil {
		// Transient transport failure: nothing has been mutated and the
		// caller may retry with the same transaction id.
		return nil, err
	}
	if !res.Verified {
		o.markFailed(ctx, in.TransactionID, res.Reason)
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, res.Reason)
	}

	// Locating.
	existing, err := o.store.Get(ctx, in.TransactionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		// Read failure before any mutation: retryable, not DatabaseUpdateFailed.
		return nil, err
	}

	// Binding.
	resolution, err := o.resolveRecord(ctx, in, res, existing)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseUpdate, err)
	}
	if resolution.Kind == ResolutionUnattributed {
		o.log.Warn("verified payment cannot be attributed to a user; no credits granted",
			"transaction_id", in.TransactionID)
		return &VerifyPaymentOutput{Success: true, Resolution: ResolutionUnattributed}, nil
	}
	record := resolution.Record

	// Crediting.
	credits := res.CreditsToGrant
	if credits <= 0 {
		credits = int(o.minPurchaseCents / o.creditPriceCents)
	}
	applied, err := o.ledger.ApplyCredit(ctx, record.UserID, credits, record.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: apply credit: %v", ErrDatabaseUpdate, err)
	}
	if !applied {
		// The ledger already holds a grant for this transaction; an earlier
		// or concurrent call won. Success, and no second usage entry. Report
		// the grant that was actually applied, not the one we computed.
		if prior, priorErr := o.ledger.GetBySourceTransactionID(ctx, record.TransactionID); priorErr == nil {
			credits = prior.Delta
		}
		o.log.Info("credit already applied for transaction",
			"transaction_id", record.TransactionID, "user_id", record.UserID)
		return &VerifyPaymentOutput{
			Success:         true,
			CreditsAdded:    credits,
			AlreadyCredited: true,
			Resolution:      resolution.Kind,
		}, nil
	}

	o.usage.Record(ctx, usage.Entry{
		UserID: record.UserID,
		Action: models.UsageActionCreditPurchase,
		Cost:   -credits,
	})

	o.log.Info("payment reconciled",
		"transaction_id", record.TransactionID, "user_id", record.UserID,
		"credits", credits, "resolution", resolution.Kind)
	return &VerifyPaymentOutput{Success: true, CreditsAdded: credits, Resolution: resolution.Kind}, nil
}

// resolveRecord binds the verified transaction to exactly one record:
// the existing record keyed by the transaction id, a rebound pending
// candidate, a freshly synthesized confirmed record, or — when no user id is
// available — no record at all.
func (o *Orchestrator) resolveRecord(ctx context.Context, in VerifyPaymentInput, res *chain.VerifyResult, existing *models.PaymentRecord) (*Resolution, error) {
	if existing != nil {
		err := o.confirm(ctx, existing)
		if errors.Is(err, repository.ErrNotFound) {
			// Record vanished between lookup and update; treat as missing.
			return o.matchOrSynthesize(ctx, in, res)
		}
		if err != nil {
			return nil, err
		}
		return &Resolution{Kind: ResolutionExisting, Record: existing}, nil
	}
	return o.matchOrSynthesize(ctx, in, res)
}

func (o *Orchestrator) matchOrSynthesize(ctx context.Context, in VerifyPaymentInput, res *chain.VerifyResult) (*Resolution, error) {
	if in.UserID == uuid.Nil {
		return &Resolution{Kind: ResolutionUnattributed}, nil
	}

	candidate, err := o.matcher.FindCandidate(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if candidate != nil {
		err := o.store.Rebind(ctx, candidate.TransactionID, in.TransactionID)
		switch {
		case err == nil:
			candidate.TransactionID = in.TransactionID
			if cErr := o.confirm(ctx, candidate); cErr != nil && !errors.Is(cErr, repository.ErrNotFound) {
				return nil, cErr
			}
			return &Resolution{Kind: ResolutionMatched, Record: candidate}, nil
		case errors.Is(err, repository.ErrDuplicateTransaction):
			// A concurrent call already bound this signature; use that record.
			return o.useExisting(ctx, in.TransactionID)
		case errors.Is(err, repository.ErrNotFound):
			// Candidate vanished or was transitioned under us; synthesize.
		default:
			return nil, err
		}
	}
	return o.synthesize(ctx, in, res)
}

// synthesize creates a record already confirmed, from the verifier's reported
// amount and token, so a successful payment is never left unrecorded.
func (o *Orchestrator) synthesize(ctx context.Context, in VerifyPaymentInput, res *chain.VerifyResult) (*Resolution, error) {
	amount := res.AmountCents
	if amount <= 0 {
		amount = o.minPurchaseCents
	}
	token := res.Token
	if token == "" {
		token = in.ExpectedToken
	}
	if token == "" {
		token = models.TokenUSDC
	}

	record := &models.PaymentRecord{
		TransactionID: in.TransactionID,
		UserID:        in.UserID,
		AmountCents:   amount,
		Token:         token,
		Recipient:     o.recipient,
		Status:        models.PaymentStatusConfirmed,
	}
	if err := o.store.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateTransaction) {
			return o.useExisting(ctx, in.TransactionID)
		}
		return nil, err
	}
	return &Resolution{Kind: ResolutionSynthesized, Record: record}, nil
}

func (o *Orchestrator) useExisting(ctx context.Context, transactionID string) (*Resolution, error) {
	record, err := o.store.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := o.confirm(ctx, record); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return &Resolution{Kind: ResolutionExisting, Record: record}, nil
}

func (o *Orchestrator) confirm(ctx context.Context, record *models.PaymentRecord) error {
	if record.Status == models.PaymentStatusConfirmed {
		return nil
	}
	if err := o.store.SetStatus(ctx, record.TransactionID, models.PaymentStatusConfirmed, nil); err != nil {
		return err
	}
	record.Status = models.PaymentStatusConfirmed
	return nil
}

// markFailed flips a located pending record to failed after a definitive
// verification failure. A missing record is not an error here: there is
// nothing to mark.
func (o *Orchestrator) markFailed(ctx context.Context, transactionID, reason string) {
	err := o.store.SetStatus(ctx, transactionID, models.PaymentStatusFailed, &reason)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		o.log.Error("mark payment failed", "transaction_id", transactionID, "error", err)
	}
}
