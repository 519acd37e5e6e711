package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prepdeck/payments-backend/internal/models"
)

func pendingAt(txID string, userID uuid.UUID, createdAt time.Time) *models.PaymentRecord {
	return &models.PaymentRecord{
		TransactionID: txID,
		UserID:        userID,
		Status:        models.PaymentStatusPending,
		CreatedAt:     createdAt,
	}
}

func TestFindCandidate_PicksMostRecentWithinWindow(t *testing.T) {
	user := uuid.New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	store := newMockStore(
		pendingAt("a", user, now.Add(-9*time.Minute)),
		pendingAt("b", user, now.Add(-4*time.Minute)),
		pendingAt("c", user, now.Add(-7*time.Minute)),
	)
	m := NewMatcher(store, 10*time.Minute)
	m.now = func() time.Time { return now }

	got, err := m.FindCandidate(context.Background(), user)
	if err != nil {
		t.Fatalf("FindCandidate: %v", err)
	}
	if got == nil || got.TransactionID != "b" {
		t.Errorf("candidate: got %v, want record b (most recent)", got)
	}
}

func TestFindCandidate_ExcludesRecordsOutsideWindow(t *testing.T) {
	user := uuid.New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	store := newMockStore(pendingAt("old", user, now.Add(-11*time.Minute)))
	m := NewMatcher(store, 10*time.Minute)
	m.now = func() time.Time { return now }

	got, err := m.FindCandidate(context.Background(), user)
	if err != nil {
		t.Fatalf("FindCandidate: %v", err)
	}
	if got != nil {
		t.Errorf("candidate: got %s, want nil (11 minutes is outside the window)", got.TransactionID)
	}
}

func TestFindCandidate_NineMinutesOldIsInsideWindow(t *testing.T) {
	user := uuid.New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	store := newMockStore(pendingAt("nine", user, now.Add(-9*time.Minute)))
	m := NewMatcher(store, 10*time.Minute)
	m.now = func() time.Time { return now }

	got, err := m.FindCandidate(context.Background(), user)
	if err != nil {
		t.Fatalf("FindCandidate: %v", err)
	}
	if got == nil || got.TransactionID != "nine" {
		t.Error("nine-minute-old pending record should be the candidate")
	}
}

func TestFindCandidate_IgnoresOtherUsers(t *testing.T) {
	user := uuid.New()
	other := uuid.New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	store := newMockStore(pendingAt("theirs", other, now.Add(-time.Minute)))
	m := NewMatcher(store, 10*time.Minute)
	m.now = func() time.Time { return now }

	got, err := m.FindCandidate(context.Background(), user)
	if err != nil {
		t.Fatalf("FindCandidate: %v", err)
	}
	if got != nil {
		t.Error("another user's pending record must never match")
	}
}

func TestNewMatcher_DefaultsWindow(t *testing.T) {
	m := NewMatcher(newMockStore(), 0)
	if m.window != DefaultMatchWindow {
		t.Errorf("window: got %v, want %v", m.window, DefaultMatchWindow)
	}
}
