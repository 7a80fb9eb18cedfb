package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gocql/gocql"

	"messenger/internal/store"
)

// Store implements store.Store on top of a Scylla/Cassandra session.
type Store struct {
	session *gocql.Session
	logger  *slog.Logger
}

// NewStore builds a Store.
func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	return &Store{session: session, logger: logger}
}

// AppendMessage durably inserts a message row. The lightweight transaction
// guards against a generator collision overwriting an existing message.
func (s *Store) AppendMessage(ctx context.Context, m store.Message) error {
	if s.session == nil {
		return store.ErrUnavailable
	}
	applied, err := s.session.
		Query(`INSERT INTO messages_by_conversation (conversation_id, message_id, sender_id, recipient_id, message_text, created_at) VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			m.ConversationID, m.ID, m.SenderID, m.RecipientID, m.Text, m.CreatedAt.UTC()).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return wrapErr("append message", err)
	}
	if !applied {
		return store.ErrDuplicateMessageID
	}
	return nil
}

// GetMessage fetches one message row by its clustering position.
func (s *Store) GetMessage(ctx context.Context, conversationID, messageID gocql.UUID) (*store.Message, error) {
	if s.session == nil {
		return nil, store.ErrUnavailable
	}
	var m store.Message
	if err := s.session.
		Query(`SELECT conversation_id, message_id, sender_id, recipient_id, message_text, created_at FROM messages_by_conversation WHERE conversation_id = ? AND message_id = ? LIMIT 1`,
			conversationID, messageID).
		WithContext(ctx).
		Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.RecipientID, &m.Text, &m.CreatedAt); err != nil {
		return nil, wrapErr("get message", err)
	}
	return &m, nil
}

// UpsertSummary inserts the participant's index row for the new activity
// timestamp. Because last_message_at is a clustering column the old row is
// physically separate; readers treat the newest row per conversation as the
// logical summary and prune the rest (see Conversations).
func (s *Store) UpsertSummary(ctx context.Context, sum store.ConversationSummary) error {
	if s.session == nil {
		return store.ErrUnavailable
	}
	if err := s.session.
		Query(`INSERT INTO conversations_by_user (user_id, last_message_at, conversation_id, participant_id) VALUES (?, ?, ?, ?)`,
			sum.UserID, sum.LastMessageAt.UTC(), sum.ConversationID, sum.ParticipantID).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return wrapErr("upsert summary", err)
	}
	return nil
}

// Messages returns messages newest-first with optional exclusive cursor.
func (s *Store) Messages(ctx context.Context, conversationID gocql.UUID, before *gocql.UUID, limit int) ([]store.Message, error) {
	if s.session == nil {
		return nil, store.ErrUnavailable
	}
	var iter *gocql.Iter
	if before != nil {
		iter = s.session.
			Query(`SELECT conversation_id, message_id, sender_id, recipient_id, message_text, created_at FROM messages_by_conversation WHERE conversation_id = ? AND message_id < ? ORDER BY message_id DESC LIMIT ?`,
				conversationID, *before, limit).
			WithContext(ctx).
			Iter()
	} else {
		iter = s.session.
			Query(`SELECT conversation_id, message_id, sender_id, recipient_id, message_text, created_at FROM messages_by_conversation WHERE conversation_id = ? ORDER BY message_id DESC LIMIT ?`,
				conversationID, limit).
			WithContext(ctx).
			Iter()
	}

	messages := make([]store.Message, 0, limit)
	var m store.Message
	for iter.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.RecipientID, &m.Text, &m.CreatedAt) {
		messages = append(messages, m)
	}
	if err := iter.Close(); err != nil {
		return nil, wrapErr("list messages", err)
	}
	return messages, nil
}

// Conversations scans the user's index partition newest-first and keeps the
// first row seen per conversation. Superseded rows encountered on the way are
// deleted best-effort so the partition does not accumulate history forever.
func (s *Store) Conversations(ctx context.Context, userID string) ([]store.ConversationSummary, error) {
	if s.session == nil {
		return nil, store.ErrUnavailable
	}
	iter := s.session.
		Query(`SELECT user_id, last_message_at, conversation_id, participant_id FROM conversations_by_user WHERE user_id = ?`, userID).
		WithContext(ctx).
		Iter()

	summaries := make([]store.ConversationSummary, 0)
	seen := make(map[gocql.UUID]struct{})
	stale := make([]store.ConversationSummary, 0)
	var sum store.ConversationSummary
	for iter.Scan(&sum.UserID, &sum.LastMessageAt, &sum.ConversationID, &sum.ParticipantID) {
		if _, ok := seen[sum.ConversationID]; ok {
			stale = append(stale, sum)
			continue
		}
		seen[sum.ConversationID] = struct{}{}
		summaries = append(summaries, sum)
	}
	if err := iter.Close(); err != nil {
		return nil, wrapErr("list conversations", err)
	}
	s.pruneStale(ctx, stale)
	return summaries, nil
}

func (s *Store) pruneStale(ctx context.Context, stale []store.ConversationSummary) {
	for _, row := range stale {
		if err := s.session.
			Query(`DELETE FROM conversations_by_user WHERE user_id = ? AND last_message_at = ? AND conversation_id = ?`,
				row.UserID, row.LastMessageAt.UTC(), row.ConversationID).
			WithContext(ctx).
			Consistency(gocql.One).
			Exec(); err != nil && s.logger != nil {
			s.logger.Warn("stale summary prune failed", "error", err, "user_id", row.UserID, "conversation_id", row.ConversationID)
		}
	}
}

// LookupConversation resolves the conversation id for an ordered user pair.
func (s *Store) LookupConversation(ctx context.Context, userA, userB string) (gocql.UUID, error) {
	if s.session == nil {
		return gocql.UUID{}, store.ErrUnavailable
	}
	var id gocql.UUID
	if err := s.session.
		Query(`SELECT conversation_id FROM conversation_by_users WHERE user_a_id = ? AND user_b_id = ? LIMIT 1`, userA, userB).
		WithContext(ctx).
		Scan(&id); err != nil {
		return gocql.UUID{}, wrapErr("lookup conversation", err)
	}
	return id, nil
}

// SaveConversationLookup registers the pair mapping with a lightweight
// transaction so concurrent openers converge on a single conversation.
func (s *Store) SaveConversationLookup(ctx context.Context, userA, userB string, id gocql.UUID) (gocql.UUID, error) {
	if s.session == nil {
		return gocql.UUID{}, store.ErrUnavailable
	}
	prev := map[string]interface{}{}
	applied, err := s.session.
		Query(`INSERT INTO conversation_by_users (user_a_id, user_b_id, conversation_id) VALUES (?, ?, ?) IF NOT EXISTS`,
			userA, userB, id).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		MapScanCAS(prev)
	if err != nil {
		return gocql.UUID{}, wrapErr("save conversation lookup", err)
	}
	if applied {
		return id, nil
	}
	winner, ok := prev["conversation_id"].(gocql.UUID)
	if !ok {
		return gocql.UUID{}, fmt.Errorf("save conversation lookup: race lost but winner row unreadable")
	}
	return winner, nil
}

// Ping verifies the session can reach the cluster.
func (s *Store) Ping(ctx context.Context) error {
	if s.session == nil {
		return store.ErrUnavailable
	}
	var version string
	if err := s.session.
		Query(`SELECT release_version FROM system.local`).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&version); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gocql.ErrNotFound) {
		return store.ErrNotFound
	}
	if retryable(err) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func retryable(err error) bool {
	if errors.Is(err, gocql.ErrNoConnections) || errors.Is(err, gocql.ErrTimeoutNoResponse) || errors.Is(err, gocql.ErrConnectionClosed) {
		return true
	}
	var unavailable *gocql.RequestErrUnavailable
	var writeTimeout *gocql.RequestErrWriteTimeout
	var readTimeout *gocql.RequestErrReadTimeout
	return errors.As(err, &unavailable) || errors.As(err, &writeTimeout) || errors.As(err, &readTimeout)
}

var _ store.Store = (*Store)(nil)
