package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/store"
)

func mustUUID(t *testing.T) gocql.UUID {
	t.Helper()
	id, err := gocql.RandomUUID()
	require.NoError(t, err)
	return id
}

func newMessage(conversationID gocql.UUID, sender, recipient, text string) store.Message {
	id := store.NewMessageID()
	return store.Message{
		ConversationID: conversationID,
		ID:             id,
		SenderID:       sender,
		RecipientID:    recipient,
		Text:           text,
		CreatedAt:      id.Time().UTC(),
	}
}

func TestAppendAndListMessages(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	conv := mustUUID(t)

	texts := []string{"hi", "hello", "hey"}
	for _, text := range texts {
		require.NoError(t, s.AppendMessage(ctx, newMessage(conv, "alice", "bob", text)))
	}

	got, err := s.Messages(ctx, conv, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "hey", got[0].Text)
	assert.Equal(t, "hello", got[1].Text)
	assert.Equal(t, "hi", got[2].Text)
}

func TestAppendMessage_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	conv := mustUUID(t)
	msg := newMessage(conv, "alice", "bob", "hi")

	require.NoError(t, s.AppendMessage(ctx, msg))
	err := s.AppendMessage(ctx, msg)
	assert.ErrorIs(t, err, store.ErrDuplicateMessageID)
}

func TestMessages_CursorIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	conv := mustUUID(t)

	var ids []gocql.UUID
	for _, text := range []string{"hi", "hello", "hey"} {
		msg := newMessage(conv, "alice", "bob", text)
		ids = append(ids, msg.ID)
		require.NoError(t, s.AppendMessage(ctx, msg))
	}

	// cursor at "hello" must return only "hi"
	got, err := s.Messages(ctx, conv, &ids[1], 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Text)
}

func TestGetMessage(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	conv := mustUUID(t)
	msg := newMessage(conv, "alice", "bob", "hi")
	require.NoError(t, s.AppendMessage(ctx, msg))

	got, err := s.GetMessage(ctx, conv, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Text)

	_, err = s.GetMessage(ctx, conv, store.NewMessageID())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertSummary_NeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	conv := mustUUID(t)
	now := time.Now().UTC()

	newer := store.ConversationSummary{
		UserID: "alice", ConversationID: conv, LastMessageAt: now, ParticipantID: "bob",
	}
	older := store.ConversationSummary{
		UserID: "alice", ConversationID: conv, LastMessageAt: now.Add(-time.Minute), ParticipantID: "bob",
	}

	require.NoError(t, s.UpsertSummary(ctx, newer))
	require.NoError(t, s.UpsertSummary(ctx, older))
	require.NoError(t, s.UpsertSummary(ctx, newer))

	got, err := s.Conversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, now, got[0].LastMessageAt)
}

func TestConversations_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now().UTC()
	c1, c2 := mustUUID(t), mustUUID(t)

	require.NoError(t, s.UpsertSummary(ctx, store.ConversationSummary{
		UserID: "alice", ConversationID: c1, LastMessageAt: now.Add(-time.Hour), ParticipantID: "bob",
	}))
	require.NoError(t, s.UpsertSummary(ctx, store.ConversationSummary{
		UserID: "alice", ConversationID: c2, LastMessageAt: now, ParticipantID: "carol",
	}))

	got, err := s.Conversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, c2, got[0].ConversationID)
	assert.Equal(t, c1, got[1].ConversationID)
}

func TestConversationLookup_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	first, second := mustUUID(t), mustUUID(t)

	_, err := s.LookupConversation(ctx, "alice", "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)

	winner, err := s.SaveConversationLookup(ctx, "alice", "bob", first)
	require.NoError(t, err)
	assert.Equal(t, first, winner)

	winner, err = s.SaveConversationLookup(ctx, "alice", "bob", second)
	require.NoError(t, err)
	assert.Equal(t, first, winner, "a racing writer must adopt the existing id")

	got, err := s.LookupConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestFaultHooks(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	conv := mustUUID(t)
	boom := errors.New("boom")

	s.FailAppends(boom)
	assert.ErrorIs(t, s.AppendMessage(ctx, newMessage(conv, "alice", "bob", "hi")), boom)
	s.FailAppends(nil)
	require.NoError(t, s.AppendMessage(ctx, newMessage(conv, "alice", "bob", "hi")))

	s.FailSummaries(boom)
	assert.ErrorIs(t, s.UpsertSummary(ctx, store.ConversationSummary{UserID: "alice", ConversationID: conv}), boom)

	s.FailPing(boom)
	assert.ErrorIs(t, s.Ping(ctx), boom)
}

func TestReadsHonorCancelledContext(t *testing.T) {
	s := NewStore()
	conv := mustUUID(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Messages(ctx, conv, nil, 10)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Conversations(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}
