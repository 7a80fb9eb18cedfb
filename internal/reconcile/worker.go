// Package reconcile repairs the denormalized conversation index from the
// write-ahead intent log: any intent that the inline fan-out did not clear is
// replayed until both participant summaries reflect the message, or handed to
// the operator queue after the retry budget runs out.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"messenger/internal/intent"
	"messenger/internal/store"
)

// ErrWorkerNotConfigured reports missing worker dependencies.
var ErrWorkerNotConfigured = errors.New("reconcile: worker missing dependencies")

// Repairer re-applies the summary fan-out for a message. Implemented by the
// messenger service; the repair is idempotent so replays are safe.
type Repairer interface {
	FanOutSummaries(ctx context.Context, m store.Message) error
}

// OperatorQueue receives intents that exhausted their retries. They must
// never be dropped silently.
type OperatorQueue interface {
	Publish(ctx context.Context, rec intent.Record, cause string) error
}

// LogQueue is the fallback OperatorQueue when no broker is configured: it
// keeps the record visible in the logs.
type LogQueue struct {
	Logger *slog.Logger
}

func (q LogQueue) Publish(_ context.Context, rec intent.Record, cause string) error {
	if q.Logger != nil {
		q.Logger.Error("intent exhausted retries",
			"intent_id", rec.ID,
			"conversation_id", rec.ConversationID.String(),
			"message_id", rec.MessageID.String(),
			"attempts", rec.Attempts,
			"cause", cause)
	}
	return nil
}

// Worker polls the intent log and converges the conversation index.
type Worker struct {
	Intents     intent.Log
	Store       store.Store
	Repair      Repairer
	Queue       OperatorQueue
	Logger      *slog.Logger
	Interval    time.Duration
	Backoff     []time.Duration
	MaxAttempts int
	ID          string

	// VoidAfter is how old an intent must be before a missing message row is
	// taken to mean the append never committed. Younger intents are retried
	// instead, in case a slow append is still in flight.
	VoidAfter time.Duration
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.Intents == nil || w.Store == nil || w.Repair == nil || w.Queue == nil {
		return ErrWorkerNotConfigured
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// a transient log or store failure must not stop
				// reconciliation for the rest of the process lifetime
				if w.Logger != nil {
					w.Logger.Error("reconcile pass failed", "error", err)
				}
			}
		}
	}
}

// processOnce claims and settles at most one due intent. Claim/log errors
// bubble up; repair failures only reschedule the intent.
func (w *Worker) processOnce(ctx context.Context) error {
	rec, err := w.Intents.Claim(ctx, w.workerID())
	if err != nil || rec == nil {
		return err
	}
	if rec.Attempts >= w.maxAttempts() {
		if err := w.Queue.Publish(ctx, *rec, rec.LastError); err != nil {
			_ = w.Intents.MarkFailed(ctx, rec.ID, w.nextRetry(rec.Attempts), "operator queue publish: "+err.Error())
			return nil
		}
		if w.Logger != nil {
			w.Logger.Error("intent handed to operator queue", "intent_id", rec.ID, "message_id", rec.MessageID.String(), "attempts", rec.Attempts)
		}
		_ = w.Intents.MarkDead(ctx, rec.ID, rec.LastError)
		return nil
	}

	msg, err := w.Store.GetMessage(ctx, rec.ConversationID, rec.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		if time.Since(rec.OccurredAt) < w.voidAfter() {
			// the append may still be in flight
			_ = w.Intents.MarkFailed(ctx, rec.ID, w.nextRetry(rec.Attempts), "message row not yet visible")
			return nil
		}
		// the append never committed and the caller saw the failure; the
		// intent is void
		return w.Intents.Done(ctx, rec.ID)
	}
	if err != nil {
		_ = w.Intents.MarkFailed(ctx, rec.ID, w.nextRetry(rec.Attempts), err.Error())
		return nil
	}

	if err := w.Repair.FanOutSummaries(ctx, *msg); err != nil {
		_ = w.Intents.MarkFailed(ctx, rec.ID, w.nextRetry(rec.Attempts), err.Error())
		return nil
	}
	return w.Intents.Done(ctx, rec.ID)
}

func (w *Worker) workerID() string {
	if w.ID != "" {
		return w.ID
	}
	return uuid.NewString()
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

func (w *Worker) maxAttempts() int {
	if w.MaxAttempts <= 0 {
		return 5
	}
	return w.MaxAttempts
}

func (w *Worker) voidAfter() time.Duration {
	if w.VoidAfter <= 0 {
		return time.Minute
	}
	return w.VoidAfter
}

func (w *Worker) nextRetry(attempts int) time.Time {
	if attempts < len(w.Backoff) {
		return time.Now().Add(w.Backoff[attempts])
	}
	if len(w.Backoff) > 0 {
		return time.Now().Add(w.Backoff[len(w.Backoff)-1])
	}
	return time.Now().Add(5 * time.Second)
}
