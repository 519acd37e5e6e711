package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// PaymentExpirer marks stale pending records as failed.
type PaymentExpirer interface {
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UsageReplayer drains the usage dead-letter queue.
type UsageReplayer interface {
	Replay(ctx context.Context) (int, error)
}

// --- expire pending payments ---

type ExpirePendingArgs struct{}

func (ExpirePendingArgs) Kind() string { return "expire_pending_payments" }

// ExpirePendingWorker expires pending payment records older than the TTL.
// Expiry reuses the same conditional pending→failed transition as the
// reconciliation path, so a record confirmed concurrently is never touched.
type ExpirePendingWorker struct {
	river.WorkerDefaults[ExpirePendingArgs]
	store PaymentExpirer
	ttl   time.Duration
	log   *slog.Logger
}

func NewExpirePendingWorker(store PaymentExpirer, ttl time.Duration, log *slog.Logger) *ExpirePendingWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ExpirePendingWorker{store: store, ttl: ttl, log: log}
}

func (w *ExpirePendingWorker) Work(ctx context.Context, job *river.Job[ExpirePendingArgs]) error {
	cutoff := time.Now().Add(-w.ttl)
	n, err := w.store.ExpirePendingBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire pending payments: %w", err)
	}
	if n > 0 {
		w.log.Info("expired stale pending payments", "count", n, "cutoff", cutoff)
	}
	return nil
}

// --- replay usage dead letters ---

type ReplayUsageArgs struct{}

func (ReplayUsageArgs) Kind() string { return "replay_usage_dlq" }

type ReplayUsageWorker struct {
	river.WorkerDefaults[ReplayUsageArgs]
	tracker UsageReplayer
	log     *slog.Logger
}

func NewReplayUsageWorker(tracker UsageReplayer, log *slog.Logger) *ReplayUsageWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReplayUsageWorker{tracker: tracker, log: log}
}

func (w *ReplayUsageWorker) Work(ctx context.Context, job *river.Job[ReplayUsageArgs]) error {
	n, err := w.tracker.Replay(ctx)
	if n > 0 {
		w.log.Info("replayed usage dead letters", "count", n)
	}
	if err != nil {
		return fmt.Errorf("replay usage dlq: %w", err)
	}
	return nil
}
