package usage

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/prepdeck/payments-backend/internal/models"
)

// Entry is one usage-tracking event.
type Entry struct {
	UserID            uuid.UUID `json:"user_id"`
	Action            string    `json:"action"`
	Cost              int       `json:"cost"`
	FreeInterviewUsed bool      `json:"free_interview_used"`
}

// Store persists usage records.
type Store interface {
	Create(ctx context.Context, u *models.UsageRecord) error
}

// DeadLetter buffers entries whose primary write failed, for later replay.
type DeadLetter interface {
	Push(ctx context.Context, e Entry) error
	Pop(ctx context.Context) (*Entry, error)
}

// Tracker writes usage audit entries. Record is fire-and-forget: a failed
// write never fails the calling operation; the entry goes to the dead-letter
// queue instead and is replayed by the sweep worker.
type Tracker struct {
	store Store
	dlq   DeadLetter
	log   *slog.Logger
}

func NewTracker(store Store, dlq DeadLetter, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{store: store, dlq: dlq, log: log}
}

func (t *Tracker) Record(ctx context.Context, e Entry) {
	rec := &models.UsageRecord{
		ID:                uuid.New(),
		UserID:            e.UserID,
		Action:            e.Action,
		Cost:              e.Cost,
		FreeInterviewUsed: e.FreeInterviewUsed,
	}
	err := t.store.Create(ctx, rec)
	if err == nil {
		return
	}
	t.log.Error("usage record write failed", "user_id", e.UserID, "action", e.Action, "error", err)
	if t.dlq == nil {
		return
	}
	if dlqErr := t.dlq.Push(ctx, e); dlqErr != nil {
		t.log.Error("usage dead-letter push failed", "user_id", e.UserID, "error", dlqErr)
	}
}

// Replay drains the dead-letter queue back into the store. Entries that still
// fail are re-queued and replay stops, so a down database does not spin the
// loop. Returns the number of entries successfully replayed.
func (t *Tracker) Replay(ctx context.Context) (int, error) {
	if t.dlq == nil {
		return 0, nil
	}
	replayed := 0
	for {
		e, err := t.dlq.Pop(ctx)
		if err != nil {
			return replayed, err
		}
		if e == nil {
			return replayed, nil
		}
		rec := &models.UsageRecord{
			ID:                uuid.New(),
			UserID:            e.UserID,
			Action:            e.Action,
			Cost:              e.Cost,
			FreeInterviewUsed: e.FreeInterviewUsed,
		}
		if err := t.store.Create(ctx, rec); err != nil {
			if pushErr := t.dlq.Push(ctx, *e); pushErr != nil {
				t.log.Error("usage dead-letter requeue failed", "user_id", e.UserID, "error", pushErr)
			}
			return replayed, err
		}
		replayed++
	}
}
