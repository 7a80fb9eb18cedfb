package kafka

import (
	"context"
	"encoding/json"
	"time"

	"messenger/internal/intent"
)

const deadLetterTopic = "messenger.reconcile.dead"

// OperatorQueue publishes exhausted intents to the dead-letter topic so an
// operator can inspect and replay them.
type OperatorQueue struct {
	Producer    *Producer
	TopicPrefix string
}

type deadLetter struct {
	IntentID       string    `json:"intent_id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	OccurredAt     time.Time `json:"occurred_at"`
	Attempts       int       `json:"attempts"`
	Cause          string    `json:"cause"`
}

func (q OperatorQueue) Publish(ctx context.Context, rec intent.Record, cause string) error {
	payload, err := json.Marshal(deadLetter{
		IntentID:       rec.ID,
		ConversationID: rec.ConversationID.String(),
		MessageID:      rec.MessageID.String(),
		SenderID:       rec.SenderID,
		RecipientID:    rec.RecipientID,
		OccurredAt:     rec.OccurredAt,
		Attempts:       rec.Attempts,
		Cause:          cause,
	})
	if err != nil {
		return err
	}
	topic := deadLetterTopic
	if q.TopicPrefix != "" {
		topic = q.TopicPrefix + topic
	}
	headers := map[string]string{"content-type": "application/json"}
	return q.Producer.Publish(ctx, topic, rec.ConversationID.String(), payload, headers)
}
