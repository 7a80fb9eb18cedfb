package messenger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"messenger/internal/store"
)

// GetMessages returns up to limit messages newest-first, starting strictly
// below the optional before cursor. The returned cursor restarts the scan at
// the next page; an empty cursor means the page was not full. Reads fail
// closed: any store error is returned instead of a partial page.
func (s *Service) GetMessages(ctx context.Context, conversationID gocql.UUID, before *gocql.UUID, limit int) ([]store.Message, *gocql.UUID, error) {
	limit = normalizeLimit(limit)
	messages, err := s.Store.Messages(ctx, conversationID, before, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	var next *gocql.UUID
	if len(messages) == limit {
		last := messages[len(messages)-1].ID
		next = &last
	}
	return messages, next, nil
}

// GetConversations returns the user's conversations ordered by most recent
// activity, ties broken by conversation id descending so pagination has a
// total order. The cursor is "<unix-nanos>|<conversation-id>" from a previous
// page.
func (s *Service) GetConversations(ctx context.Context, userID string, limit int, cursor string) ([]store.ConversationSummary, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, "", fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	limit = normalizeLimit(limit)
	cursorTime, cursorID, err := parseCursor(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid cursor", ErrInvalidArgument)
	}

	summaries, err := s.Store.Conversations(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("list conversations: %w", err)
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].LastMessageAt.Equal(summaries[j].LastMessageAt) {
			return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
		}
		return summaries[i].ConversationID.String() > summaries[j].ConversationID.String()
	})

	page := make([]store.ConversationSummary, 0, limit)
	for _, sum := range summaries {
		if cursorID != "" {
			if sum.LastMessageAt.After(cursorTime) {
				continue
			}
			if sum.LastMessageAt.Equal(cursorTime) && sum.ConversationID.String() >= cursorID {
				continue
			}
		}
		page = append(page, sum)
		if len(page) == limit {
			break
		}
	}

	next := ""
	if len(page) == limit {
		last := page[len(page)-1]
		next = buildCursor(last.LastMessageAt, last.ConversationID)
	}
	return page, next, nil
}

// GetConversation returns one user's summary of a single conversation,
// store.ErrNotFound when the user has no activity in it.
func (s *Service) GetConversation(ctx context.Context, userID string, conversationID gocql.UUID) (*store.ConversationSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	summaries, err := s.Store.Conversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	for i := range summaries {
		if summaries[i].ConversationID == conversationID {
			return &summaries[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func parseCursor(raw string) (time.Time, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, "", nil
	}
	parts := strings.Split(trimmed, "|")
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	if _, err := gocql.ParseUUID(parts[1]); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}

func buildCursor(at time.Time, id gocql.UUID) string {
	return fmt.Sprintf("%d|%s", at.UTC().UnixNano(), id.String())
}
