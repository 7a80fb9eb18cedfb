package store

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"
)

// Message is a single chat message, immutable once written. It is owned by
// its conversation partition and identified by (ConversationID, ID).
type Message struct {
	ConversationID gocql.UUID
	ID             gocql.UUID
	SenderID       string
	RecipientID    string
	Text           string
	CreatedAt      time.Time
}

// ConversationSummary is one user's view of a conversation: a row in the
// per-user index, bumped on every message. Logically there is exactly one
// summary per (UserID, ConversationID); LastMessageAt only ever increases.
type ConversationSummary struct {
	UserID         string
	ConversationID gocql.UUID
	LastMessageAt  time.Time
	ParticipantID  string
}

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable marks transient storage failures that are safe to retry.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrDuplicateMessageID is returned when a message id already exists in
	// the conversation. The generator makes this unreachable in practice, so
	// callers treat it as an invariant violation rather than retrying.
	ErrDuplicateMessageID = errors.New("store: duplicate message id")
)

// Store is the persistence contract shared by the Scylla implementation and
// the in-memory twin used in tests and dev mode.
type Store interface {
	// AppendMessage durably writes a message row. Returns
	// ErrDuplicateMessageID if the (conversation, message id) pair exists.
	AppendMessage(ctx context.Context, m Message) error

	// GetMessage fetches a single message row, ErrNotFound if absent.
	GetMessage(ctx context.Context, conversationID, messageID gocql.UUID) (*Message, error)

	// UpsertSummary records conversation activity for one participant. It is
	// idempotent: replaying with the same or an older timestamp never moves
	// the summary backwards.
	UpsertSummary(ctx context.Context, s ConversationSummary) error

	// Messages returns up to limit messages newest-first, starting below the
	// optional before cursor.
	Messages(ctx context.Context, conversationID gocql.UUID, before *gocql.UUID, limit int) ([]Message, error)

	// Conversations returns all summaries for a user, newest activity first,
	// one entry per conversation.
	Conversations(ctx context.Context, userID string) ([]ConversationSummary, error)

	// LookupConversation resolves the conversation for an ordered user pair,
	// ErrNotFound when the pair has never talked.
	LookupConversation(ctx context.Context, userA, userB string) (gocql.UUID, error)

	// SaveConversationLookup registers a conversation for a user pair. When a
	// concurrent writer got there first, the winning id is returned instead.
	SaveConversationLookup(ctx context.Context, userA, userB string, id gocql.UUID) (gocql.UUID, error)

	// Ping reports whether the store can serve requests.
	Ping(ctx context.Context) error
}
