package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gocql/gocql"

	"messenger/internal/messenger"
	"messenger/internal/store"
)

// MessageHTTP exposes messaging endpoints.
type MessageHTTP interface {
	OpenConversation(c *gin.Context)
	ListConversations(c *gin.Context)
	GetConversation(c *gin.Context)
	SendMessage(c *gin.Context)
	ListMessages(c *gin.Context)
}

// MessageHandler bridges HTTP with the messenger service.
type MessageHandler struct {
	Service *messenger.Service
	Logger  *slog.Logger
}

type openConversationRequest struct {
	UserID string `json:"user_id"`
	PeerID string `json:"peer_id"`
}

type sendMessageRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

type messageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

type conversationView struct {
	ConversationID string    `json:"conversation_id"`
	ParticipantID  string    `json:"participant_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
}

// OpenConversation resolves or creates the conversation between two users.
func (h MessageHandler) OpenConversation(c *gin.Context) {
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messenger unavailable"})
		return
	}
	var req openConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, err := h.Service.OpenConversation(c.Request.Context(), req.UserID, req.PeerID)
	if err != nil {
		h.respondError(c, err, "open conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id.String()})
}

// ListConversations returns a user's conversations, most recent activity
// first.
func (h MessageHandler) ListConversations(c *gin.Context) {
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messenger unavailable"})
		return
	}
	userID := c.Param("id")
	limit := parsePositiveInt(c.Query("limit"), 20)
	cursor := c.Query("cursor")

	summaries, next, err := h.Service.GetConversations(c.Request.Context(), userID, limit, cursor)
	if err != nil {
		h.respondError(c, err, "list conversations", "user_id", userID)
		return
	}
	items := make([]conversationView, 0, len(summaries))
	for _, sum := range summaries {
		items = append(items, conversationView{
			ConversationID: sum.ConversationID.String(),
			ParticipantID:  sum.ParticipantID,
			LastMessageAt:  sum.LastMessageAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "next_cursor": next})
}

// GetConversation returns one user's summary of a single conversation.
func (h MessageHandler) GetConversation(c *gin.Context) {
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messenger unavailable"})
		return
	}
	userID := c.Param("id")
	raw := strings.TrimSpace(c.Param("conversation_id"))
	conversationID, err := gocql.ParseUUID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	sum, err := h.Service.GetConversation(c.Request.Context(), userID, conversationID)
	if err != nil {
		h.respondError(c, err, "get conversation", "user_id", userID, "conversation_id", conversationID.String())
		return
	}
	c.JSON(http.StatusOK, conversationView{
		ConversationID: sum.ConversationID.String(),
		ParticipantID:  sum.ParticipantID,
		LastMessageAt:  sum.LastMessageAt,
	})
}

// SendMessage posts a message to a conversation.
func (h MessageHandler) SendMessage(c *gin.Context) {
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messenger unavailable"})
		return
	}
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	messageID, err := h.Service.SendMessage(c.Request.Context(), conversationID, req.SenderID, req.RecipientID, req.Text)
	if err != nil {
		h.respondError(c, err, "send message", "conversation_id", conversationID.String())
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message_id":      messageID.String(),
		"conversation_id": conversationID.String(),
	})
}

// ListMessages returns messages in reverse chronological order with cursor
// pagination.
func (h MessageHandler) ListMessages(c *gin.Context) {
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messenger unavailable"})
		return
	}
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	var before *gocql.UUID
	if trimmed := strings.TrimSpace(c.Query("cursor")); trimmed != "" {
		parsed, err := gocql.ParseUUID(trimmed)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		before = &parsed
	}
	limit := parsePositiveInt(c.Query("limit"), 50)

	messages, next, err := h.Service.GetMessages(c.Request.Context(), conversationID, before, limit)
	if err != nil {
		h.respondError(c, err, "list messages", "conversation_id", conversationID.String())
		return
	}
	items := make([]messageView, 0, len(messages))
	for _, msg := range messages {
		items = append(items, messageView{
			ID:             msg.ID.String(),
			ConversationID: msg.ConversationID.String(),
			SenderID:       msg.SenderID,
			RecipientID:    msg.RecipientID,
			Text:           msg.Text,
			CreatedAt:      msg.CreatedAt,
		})
	}
	nextCursor := ""
	if next != nil {
		nextCursor = next.String()
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "next_cursor": nextCursor})
}

func parseConversationID(c *gin.Context) (gocql.UUID, bool) {
	raw := strings.TrimSpace(c.Param("id"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return gocql.UUID{}, false
	}
	id, err := gocql.ParseUUID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return gocql.UUID{}, false
	}
	return id, true
}

func parsePositiveInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func (h MessageHandler) respondError(c *gin.Context, err error, op string, attrs ...any) {
	switch {
	case errors.Is(err, messenger.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrUnavailable):
		if h.Logger != nil {
			h.Logger.Error(op+" failed, store unavailable", append(attrs, "error", err)...)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		if h.Logger != nil {
			h.Logger.Error(op+" failed", append(attrs, "error", err)...)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

var _ MessageHTTP = (*MessageHandler)(nil)
