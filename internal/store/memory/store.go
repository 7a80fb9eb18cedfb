package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gocql/gocql"

	"messenger/internal/store"
)

type pairKey struct {
	a, b string
}

type summaryKey struct {
	userID         string
	conversationID gocql.UUID
}

// Store is an in-memory store.Store twin used by tests and dev mode. Fault
// hooks allow tests to inject failures on individual write steps.
type Store struct {
	mu        sync.Mutex
	messages  map[gocql.UUID][]store.Message
	summaries map[summaryKey]store.ConversationSummary
	lookups   map[pairKey]gocql.UUID

	appendErr  error
	summaryErr error
	pingErr    error
}

// NewStore builds an empty in-memory store.
func NewStore() *Store {
	return &Store{
		messages:  make(map[gocql.UUID][]store.Message),
		summaries: make(map[summaryKey]store.ConversationSummary),
		lookups:   make(map[pairKey]gocql.UUID),
	}
}

// FailAppends makes AppendMessage return err until cleared with nil.
func (s *Store) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// FailSummaries makes UpsertSummary return err until cleared with nil.
func (s *Store) FailSummaries(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaryErr = err
}

// FailPing makes Ping return err until cleared with nil.
func (s *Store) FailPing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *Store) AppendMessage(ctx context.Context, m store.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	rows := s.messages[m.ConversationID]
	for _, existing := range rows {
		if existing.ID == m.ID {
			return store.ErrDuplicateMessageID
		}
	}
	rows = append(rows, m)
	// clustering order: message_id DESC
	sort.Slice(rows, func(i, j int) bool {
		return store.CompareIDs(rows[i].ID, rows[j].ID) > 0
	})
	s.messages[m.ConversationID] = rows
	return nil
}

func (s *Store) GetMessage(ctx context.Context, conversationID, messageID gocql.UUID) (*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			found := m
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpsertSummary(ctx context.Context, sum store.ConversationSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summaryErr != nil {
		return s.summaryErr
	}
	key := summaryKey{userID: sum.UserID, conversationID: sum.ConversationID}
	if current, ok := s.summaries[key]; ok && current.LastMessageAt.After(sum.LastMessageAt) {
		// never move a summary backwards
		return nil
	}
	s.summaries[key] = sum
	return nil
}

func (s *Store) Messages(ctx context.Context, conversationID gocql.UUID, before *gocql.UUID, limit int) ([]store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Message, 0, limit)
	for _, m := range s.messages[conversationID] {
		if before != nil && store.CompareIDs(m.ID, *before) >= 0 {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Conversations(ctx context.Context, userID string) ([]store.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ConversationSummary, 0)
	for key, sum := range s.summaries {
		if key.userID == userID {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ConversationID.String() > out[j].ConversationID.String()
	})
	return out, nil
}

func (s *Store) LookupConversation(ctx context.Context, userA, userB string) (gocql.UUID, error) {
	if err := ctx.Err(); err != nil {
		return gocql.UUID{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.lookups[pairKey{a: userA, b: userB}]; ok {
		return id, nil
	}
	return gocql.UUID{}, store.ErrNotFound
}

func (s *Store) SaveConversationLookup(ctx context.Context, userA, userB string, id gocql.UUID) (gocql.UUID, error) {
	if err := ctx.Err(); err != nil {
		return gocql.UUID{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{a: userA, b: userB}
	if winner, ok := s.lookups[key]; ok {
		return winner, nil
	}
	s.lookups[key] = id
	return id, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

var _ store.Store = (*Store)(nil)
