package reconcile

import "github.com/prepdeck/payments-backend/internal/models"

// ResolutionKind says how a verified transaction was bound to a payment record.
type ResolutionKind string

const (
	// ResolutionExisting: a record keyed by the transaction id was found.
	ResolutionExisting ResolutionKind = "existing"
	// ResolutionMatched: a pending record was rebound from its placeholder id.
	ResolutionMatched ResolutionKind = "matched"
	// ResolutionSynthesized: no record and no candidate; a confirmed record
	// was created directly from the verification result.
	ResolutionSynthesized ResolutionKind = "synthesized"
	// ResolutionUnattributed: no record, no user id; the payment is verified
	// but credits cannot be attributed to anyone.
	ResolutionUnattributed ResolutionKind = "unattributed"
)

// Resolution is the single result of record resolution, consumed uniformly by
// the orchestrator instead of three branching call sites. Record is nil only
// for ResolutionUnattributed.
type Resolution struct {
	Kind   ResolutionKind
	Record *models.PaymentRecord
}
