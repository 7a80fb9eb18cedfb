// Package intent holds the write-ahead intent log for the two-step message
// write. An intent is recorded before the message append and cleared once
// both participant summaries are in place; anything left over is picked up by
// the reconciler.
package intent

import (
	"context"
	"time"

	"github.com/gocql/gocql"
)

// Record captures everything needed to replay the summary fan-out for one
// message.
type Record struct {
	ID             string
	ConversationID gocql.UUID
	MessageID      gocql.UUID
	SenderID       string
	RecipientID    string
	OccurredAt     time.Time
	// NextAttempt is the earliest moment the reconciler may claim this
	// record. The coordinator sets it slightly in the future so the inline
	// fan-out gets a chance to clear the intent first.
	NextAttempt time.Time
	Attempts    int
	LastError   string
}

// Log is the intent store contract.
type Log interface {
	// Add records a new intent before the message append.
	Add(ctx context.Context, rec Record) error
	// Done clears an intent whose fan-out completed (or that turned out to
	// reference a message that was never committed).
	Done(ctx context.Context, id string) error
	// Claim hands the worker one due intent exclusively, nil when none is
	// due.
	Claim(ctx context.Context, workerID string) (*Record, error)
	// MarkFailed returns a claimed intent to the queue with an incremented
	// attempt count and a new due time.
	MarkFailed(ctx context.Context, id string, next time.Time, cause string) error
	// MarkDead parks an intent that exhausted its retries. Dead intents stay
	// visible to operators and are never claimed again.
	MarkDead(ctx context.Context, id string, cause string) error
}
