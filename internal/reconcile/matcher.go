package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prepdeck/payments-backend/internal/models"
)

// DefaultMatchWindow is how far back the matcher looks for a pending record
// to rebind when a verified transaction arrives with no id match.
const DefaultMatchWindow = 10 * time.Minute

// PendingLister is the store subset the matcher needs.
type PendingLister interface {
	ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]*models.PaymentRecord, error)
}

// Matcher resolves the case where a verification call arrives before (or
// without) a record keyed by the real transaction id: a user typically has at
// most one in-flight purchase, so the most recently created pending record
// within the lookback window is the rebind candidate. Older pending records
// are left alone; the sweep worker eventually expires them.
type Matcher struct {
	store  PendingLister
	window time.Duration

	now func() time.Time // swapped in tests
}

func NewMatcher(store PendingLister, window time.Duration) *Matcher {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &Matcher{store: store, window: window, now: time.Now}
}

// FindCandidate returns the user's most recent pending record created within
// the lookback window, or nil when none qualifies.
func (m *Matcher) FindCandidate(ctx context.Context, userID uuid.UUID) (*models.PaymentRecord, error) {
	records, err := m.store.ListPendingByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	cutoff := m.now().Add(-m.window)
	var best *models.PaymentRecord
	for _, rec := range records {
		if rec.CreatedAt.Before(cutoff) {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	return best, nil
}
