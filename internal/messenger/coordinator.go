package messenger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"messenger/internal/intent"
	"messenger/internal/store"
)

// SendMessage runs the two-step write: a write-ahead intent, the durable
// message append, then the per-participant summary fan-out. The call succeeds
// once the append is durable; a failed fan-out leaves the intent in place for
// the reconciler and is not surfaced to the caller.
func (s *Service) SendMessage(ctx context.Context, conversationID gocql.UUID, senderID, recipientID, text string) (gocql.UUID, error) {
	senderID = strings.TrimSpace(senderID)
	recipientID = strings.TrimSpace(recipientID)
	if senderID == "" || recipientID == "" {
		return gocql.UUID{}, fmt.Errorf("%w: sender_id and recipient_id are required", ErrInvalidArgument)
	}
	if senderID == recipientID {
		return gocql.UUID{}, fmt.Errorf("%w: cannot message oneself", ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return gocql.UUID{}, fmt.Errorf("%w: text is required", ErrInvalidArgument)
	}

	messageID := store.NewMessageID()
	createdAt := messageID.Time().UTC()
	rec := intent.Record{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		MessageID:      messageID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		OccurredAt:     createdAt,
		NextAttempt:    time.Now().Add(s.grace()),
	}
	if err := s.Intents.Add(ctx, rec); err != nil {
		return gocql.UUID{}, fmt.Errorf("record intent: %w", err)
	}

	msg := store.Message{
		ConversationID: conversationID,
		ID:             messageID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Text:           text,
		CreatedAt:      createdAt,
	}
	if err := s.Store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicateMessageID) {
			// the row provably was not written by this call, the intent is void
			if doneErr := s.Intents.Done(context.WithoutCancel(ctx), rec.ID); doneErr != nil && s.Logger != nil {
				s.Logger.Warn("void intent cleanup failed", "error", doneErr, "intent_id", rec.ID)
			}
			if s.Logger != nil {
				s.Logger.Error("message id collision", "conversation_id", conversationID.String(), "message_id", messageID.String())
			}
			return gocql.UUID{}, fmt.Errorf("append message: %w", err)
		}
		// an ambiguous failure (timeout, lost quorum) may still have committed
		// server-side; the intent stays so the reconciler can settle it against
		// the message row
		if s.Logger != nil {
			s.Logger.Warn("append failed, intent left for reconciliation",
				"error", err, "intent_id", rec.ID, "conversation_id", conversationID.String(), "message_id", messageID.String())
		}
		return gocql.UUID{}, fmt.Errorf("append message: %w", err)
	}

	// the message is committed; from here on the caller's cancellation must
	// not interrupt the fan-out
	detached := context.WithoutCancel(ctx)
	if err := s.FanOutSummaries(detached, msg); err != nil {
		if s.Logger != nil {
			s.Logger.Warn("summary fan-out incomplete, reconciler will repair",
				"error", err, "conversation_id", conversationID.String(), "message_id", messageID.String())
		}
		return messageID, nil
	}
	if err := s.Intents.Done(detached, rec.ID); err != nil && s.Logger != nil {
		// repair replays are idempotent, a stray intent is harmless
		s.Logger.Warn("intent clear failed", "error", err, "intent_id", rec.ID)
	}
	return messageID, nil
}

// FanOutSummaries upserts both participants' conversation index rows for the
// message. Safe to repeat; the reconciler calls it when replaying intents.
func (s *Service) FanOutSummaries(ctx context.Context, m store.Message) error {
	sender := store.ConversationSummary{
		UserID:         m.SenderID,
		ConversationID: m.ConversationID,
		LastMessageAt:  m.CreatedAt,
		ParticipantID:  m.RecipientID,
	}
	if err := s.Store.UpsertSummary(ctx, sender); err != nil {
		return fmt.Errorf("sender summary: %w", err)
	}
	recipient := store.ConversationSummary{
		UserID:         m.RecipientID,
		ConversationID: m.ConversationID,
		LastMessageAt:  m.CreatedAt,
		ParticipantID:  m.SenderID,
	}
	if err := s.Store.UpsertSummary(ctx, recipient); err != nil {
		return fmt.Errorf("recipient summary: %w", err)
	}
	return nil
}

// OpenConversation returns the conversation id for a user pair, creating the
// mapping on first contact. The pair is normalized so argument order does not
// matter.
func (s *Service) OpenConversation(ctx context.Context, userID, peerID string) (gocql.UUID, error) {
	userID = strings.TrimSpace(userID)
	peerID = strings.TrimSpace(peerID)
	if userID == "" || peerID == "" {
		return gocql.UUID{}, fmt.Errorf("%w: user_id and peer_id are required", ErrInvalidArgument)
	}
	if userID == peerID {
		return gocql.UUID{}, fmt.Errorf("%w: cannot open a conversation with oneself", ErrInvalidArgument)
	}
	userA, userB := orderPair(userID, peerID)

	id, err := s.Store.LookupConversation(ctx, userA, userB)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return gocql.UUID{}, fmt.Errorf("lookup conversation: %w", err)
	}

	fresh, err := gocql.RandomUUID()
	if err != nil {
		return gocql.UUID{}, fmt.Errorf("generate conversation id: %w", err)
	}
	winner, err := s.Store.SaveConversationLookup(ctx, userA, userB, fresh)
	if err != nil {
		return gocql.UUID{}, fmt.Errorf("save conversation lookup: %w", err)
	}
	return winner, nil
}

func orderPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
