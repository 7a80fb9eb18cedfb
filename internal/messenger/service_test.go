package messenger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intentmemory "messenger/internal/intent/memory"
	"messenger/internal/messenger"
	"messenger/internal/store"
	storememory "messenger/internal/store/memory"
)

type fixture struct {
	svc     *messenger.Service
	store   *storememory.Store
	intents *intentmemory.Log
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := storememory.NewStore()
	intents := intentmemory.NewLog()
	svc := messenger.NewService(st, intents, nil)
	return fixture{svc: svc, store: st, intents: intents}
}

func openConversation(t *testing.T, f fixture, a, b string) gocql.UUID {
	t.Helper()
	id, err := f.svc.OpenConversation(context.Background(), a, b)
	require.NoError(t, err)
	return id
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t)
	conv := openConversation(t, f, "alice", "bob")

	tests := []struct {
		name      string
		sender    string
		recipient string
		text      string
	}{
		{name: "missing sender", sender: "", recipient: "bob", text: "hi"},
		{name: "missing recipient", sender: "alice", recipient: "", text: "hi"},
		{name: "empty text", sender: "alice", recipient: "bob", text: "   "},
		{name: "self message", sender: "alice", recipient: "alice", text: "hi"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(context.Background(), conv, tc.sender, tc.recipient, tc.text)
			assert.ErrorIs(t, err, messenger.ErrInvalidArgument)
		})
	}
}

func TestSendMessage_SequentialIDsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	conv := openConversation(t, f, "alice", "bob")

	var prev gocql.UUID
	for i := 0; i < 20; i++ {
		id, err := f.svc.SendMessage(context.Background(), conv, "alice", "bob", "ping")
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, -1, store.CompareIDs(prev, id), "later sends must sort after earlier ones")
		}
		prev = id
	}
}

func TestSendMessage_UpdatesBothSummaries(t *testing.T) {
	f := newFixture(t)
	conv := openConversation(t, f, "alice", "bob")

	id, err := f.svc.SendMessage(context.Background(), conv, "alice", "bob", "hi")
	require.NoError(t, err)
	sentAt := id.Time().UTC()

	for user, peer := range map[string]string{"alice": "bob", "bob": "alice"} {
		sums, err := f.store.Conversations(context.Background(), user)
		require.NoError(t, err)
		require.Len(t, sums, 1)
		assert.Equal(t, conv, sums[0].ConversationID)
		assert.Equal(t, peer, sums[0].ParticipantID)
		assert.False(t, sums[0].LastMessageAt.Before(sentAt), "summary must reflect at least the message timestamp")
	}
	assert.Empty(t, f.intents.Pending(), "completed sends leave no intent behind")
}

func TestSendMessage_SucceedsWhenFanOutFails(t *testing.T) {
	f := newFixture(t)
	conv := openConversation(t, f, "alice", "bob")
	f.store.FailSummaries(errors.New("partition down"))

	id, err := f.svc.SendMessage(context.Background(), conv, "alice", "bob", "hi")
	require.NoError(t, err, "the send is committed once the append is durable")

	msg, err := f.store.GetMessage(context.Background(), conv, id)
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)

	require.Len(t, f.intents.Pending(), 1, "the uncleared intent marks the repair debt")
}

func TestSendMessage_DuplicateAppendVoidsIntent(t *testing.T) {
	f := newFixture(t)
	conv := openConversation(t, f, "alice", "bob")
	f.store.FailAppends(store.ErrDuplicateMessageID)

	_, err := f.svc.SendMessage(context.Background(), conv, "alice", "bob", "hi")
	require.ErrorIs(t, err, store.ErrDuplicateMessageID)
	assert.Empty(t, f.intents.Pending(), "a provably unwritten message must not leave an intent to replay")
}

func TestSendMessage_AmbiguousAppendKeepsIntent(t *testing.T) {
	f := newFixture(t)
	conv := openConversation(t, f, "alice", "bob")
	f.store.FailAppends(errors.New("no quorum"))

	_, err := f.svc.SendMessage(context.Background(), conv, "alice", "bob", "hi")
	require.Error(t, err)
	require.Len(t, f.intents.Pending(), 1,
		"a timeout may have committed server-side, the reconciler must get to settle it")
}

// commitThenFail makes the append land and then reports a transient failure,
// the way a write timeout can when the replicas actually applied the mutation.
type commitThenFail struct {
	store.Store
	lastID gocql.UUID
}

func (s *commitThenFail) AppendMessage(ctx context.Context, m store.Message) error {
	if err := s.Store.AppendMessage(ctx, m); err != nil {
		return err
	}
	s.lastID = m.ID
	return store.ErrUnavailable
}

func TestSendMessage_CommittedButUnacknowledgedAppendStaysRepairable(t *testing.T) {
	mem := storememory.NewStore()
	intents := intentmemory.NewLog()
	wrapped := &commitThenFail{Store: mem}
	svc := messenger.NewService(wrapped, intents, nil)

	conv, err := svc.OpenConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), conv, "alice", "bob", "hi")
	require.ErrorIs(t, err, store.ErrUnavailable)

	// the append landed even though the caller saw a failure
	msg, err := mem.GetMessage(context.Background(), conv, wrapped.lastID)
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)

	require.Len(t, intents.Pending(), 1,
		"the durable message must keep its intent so the summaries can be repaired")
}

func TestGetMessages_Scenario(t *testing.T) {
	f := newFixture(t)
	conv := openConversation(t, f, "alice", "bob")

	for _, text := range []string{"hi", "hello", "hey"} {
		_, err := f.svc.SendMessage(context.Background(), conv, "alice", "bob", text)
		require.NoError(t, err)
	}

	page, next, err := f.svc.GetMessages(context.Background(), conv, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "hey", page[0].Text)
	assert.Equal(t, "hello", page[1].Text)
	require.NotNil(t, next)

	rest, _, err := f.svc.GetMessages(context.Background(), conv, next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "hi", rest[0].Text)
}

func TestGetMessages_PaginationIsLosslessAndNonDuplicating(t *testing.T) {
	f := newFixture(t)
	conv := openConversation(t, f, "alice", "bob")

	sent := make(map[gocql.UUID]struct{})
	for i := 0; i < 25; i++ {
		id, err := f.svc.SendMessage(context.Background(), conv, "alice", "bob", "ping")
		require.NoError(t, err)
		sent[id] = struct{}{}
	}

	collected := make(map[gocql.UUID]struct{})
	var cursor *gocql.UUID
	for {
		page, next, err := f.svc.GetMessages(context.Background(), conv, cursor, 10)
		require.NoError(t, err)
		for _, msg := range page {
			_, dup := collected[msg.ID]
			require.False(t, dup, "no message may appear on two pages")
			collected[msg.ID] = struct{}{}
		}
		if next == nil {
			break
		}
		cursor = next
	}
	assert.Equal(t, sent, collected)
}

func TestGetConversations_Scenario(t *testing.T) {
	f := newFixture(t)
	c1 := openConversation(t, f, "alice", "bob")
	c2 := openConversation(t, f, "alice", "carol")

	_, err := f.svc.SendMessage(context.Background(), c1, "alice", "bob", "first")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(context.Background(), c2, "alice", "carol", "second")
	require.NoError(t, err)

	sums, _, err := f.svc.GetConversations(context.Background(), "alice", 2, "")
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, c2, sums[0].ConversationID, "most recent activity first")
	assert.Equal(t, c1, sums[1].ConversationID)
}

func TestGetConversations_CursorPagination(t *testing.T) {
	f := newFixture(t)
	c1 := openConversation(t, f, "alice", "bob")
	c2 := openConversation(t, f, "alice", "carol")
	c3 := openConversation(t, f, "alice", "dave")

	for conv, peer := range map[gocql.UUID]string{c1: "bob", c2: "carol", c3: "dave"} {
		_, err := f.svc.SendMessage(context.Background(), conv, "alice", peer, "hi")
		require.NoError(t, err)
	}

	seen := make(map[gocql.UUID]struct{})
	cursor := ""
	for {
		page, next, err := f.svc.GetConversations(context.Background(), "alice", 1, cursor)
		require.NoError(t, err)
		for _, sum := range page {
			_, dup := seen[sum.ConversationID]
			require.False(t, dup, "no conversation may appear on two pages")
			seen[sum.ConversationID] = struct{}{}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Len(t, seen, 3)
}

func TestGetConversations_RejectsBadCursor(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.GetConversations(context.Background(), "alice", 10, "garbage")
	assert.ErrorIs(t, err, messenger.ErrInvalidArgument)
}

func TestOpenConversation_PairIsOrderInsensitive(t *testing.T) {
	f := newFixture(t)
	first := openConversation(t, f, "alice", "bob")
	second := openConversation(t, f, "bob", "alice")
	assert.Equal(t, first, second)

	_, err := f.svc.OpenConversation(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, messenger.ErrInvalidArgument)
}

func TestReadsFailClosedOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	conv := openConversation(t, f, "alice", "bob")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.svc.GetMessages(ctx, conv, nil, 10)
	assert.Error(t, err)
	_, _, err = f.svc.GetConversations(ctx, "alice", 10, "")
	assert.Error(t, err)
}

// cancelOnAppend cancels the caller's context the moment the append commits,
// simulating a client that goes away mid-send.
type cancelOnAppend struct {
	store.Store
	cancel context.CancelFunc
}

func (s cancelOnAppend) AppendMessage(ctx context.Context, m store.Message) error {
	err := s.Store.AppendMessage(ctx, m)
	s.cancel()
	return err
}

func TestSendMessage_FanOutSurvivesCallerCancellation(t *testing.T) {
	mem := storememory.NewStore()
	intents := intentmemory.NewLog()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := messenger.NewService(cancelOnAppend{Store: mem, cancel: cancel}, intents, nil)

	conv, err := svc.OpenConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)

	id, err := svc.SendMessage(ctx, conv, "alice", "bob", "hi")
	require.NoError(t, err, "a committed send must not report the cancellation")

	// both summaries were written despite the cancelled caller context
	for _, user := range []string{"alice", "bob"} {
		sums, err := mem.Conversations(context.Background(), user)
		require.NoError(t, err)
		require.Len(t, sums, 1)
		assert.WithinDuration(t, id.Time().UTC(), sums[0].LastMessageAt, time.Second)
	}
	assert.Empty(t, intents.Pending())
}
