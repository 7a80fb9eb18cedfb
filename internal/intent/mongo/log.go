package mongo

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"messenger/internal/intent"
)

const (
	stateNew     = "NEW"
	stateClaimed = "CLAIMED"
	stateDead    = "DEAD"
)

// defaultClaimTTL bounds how long a claim may sit before another worker takes
// the intent over. Guards against workers that die between Claim and
// Done/MarkFailed.
const defaultClaimTTL = 2 * time.Minute

// Log is the durable intent.Log backed by a Mongo collection.
type Log struct {
	col *mongo.Collection

	// ClaimTTL overrides defaultClaimTTL when positive.
	ClaimTTL time.Duration
}

// NewLog builds the Log and ensures the claim indexes exist.
func NewLog(db *mongo.Database) *Log {
	col := db.Collection("message_intents")
	idx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "next_attempt_at", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "claimed_at", Value: 1}}},
	}
	_, _ = col.Indexes().CreateMany(context.Background(), idx)
	return &Log{col: col}
}

type document struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	MessageID      string    `bson:"message_id"`
	SenderID       string    `bson:"sender_id"`
	RecipientID    string    `bson:"recipient_id"`
	OccurredAt     time.Time `bson:"occurred_at"`
	State          string    `bson:"state"`
	Attempts       int       `bson:"attempts"`
	NextAttempt    time.Time `bson:"next_attempt_at"`
	ClaimedBy      string    `bson:"claimed_by,omitempty"`
	ClaimedAt      time.Time `bson:"claimed_at,omitempty"`
	LastError      string    `bson:"last_error,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (l *Log) Add(ctx context.Context, rec intent.Record) error {
	doc := document{
		ID:             rec.ID,
		ConversationID: rec.ConversationID.String(),
		MessageID:      rec.MessageID.String(),
		SenderID:       rec.SenderID,
		RecipientID:    rec.RecipientID,
		OccurredAt:     rec.OccurredAt.UTC(),
		State:          stateNew,
		Attempts:       0,
		NextAttempt:    rec.NextAttempt.UTC(),
		CreatedAt:      time.Now().UTC(),
	}
	_, err := l.col.InsertOne(ctx, doc)
	return err
}

func (l *Log) Done(ctx context.Context, id string) error {
	_, err := l.col.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (l *Log) Claim(ctx context.Context, workerID string) (*intent.Record, error) {
	now := time.Now().UTC()
	// claims older than the TTL belong to a worker that died mid-flight and
	// are taken over like due NEW intents
	filter := bson.M{"$or": bson.A{
		bson.M{"state": stateNew, "next_attempt_at": bson.M{"$lte": now}},
		bson.M{"state": stateClaimed, "claimed_at": bson.M{"$lte": now.Add(-l.claimTTL())}},
	}}
	update := bson.M{"$set": bson.M{"state": stateClaimed, "claimed_by": workerID, "claimed_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc document
	err := l.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return docToRecord(doc)
}

func (l *Log) MarkFailed(ctx context.Context, id string, next time.Time, cause string) error {
	update := bson.M{
		"$set": bson.M{
			"state":           stateNew,
			"next_attempt_at": next.UTC(),
			"last_error":      cause,
		},
		"$inc": bson.M{"attempts": 1},
	}
	_, err := l.col.UpdateByID(ctx, id, update)
	return err
}

func (l *Log) MarkDead(ctx context.Context, id string, cause string) error {
	update := bson.M{"$set": bson.M{"state": stateDead, "last_error": cause}}
	_, err := l.col.UpdateByID(ctx, id, update)
	return err
}

func (l *Log) claimTTL() time.Duration {
	if l.ClaimTTL > 0 {
		return l.ClaimTTL
	}
	return defaultClaimTTL
}

func docToRecord(doc document) (*intent.Record, error) {
	conversationID, err := gocql.ParseUUID(doc.ConversationID)
	if err != nil {
		return nil, err
	}
	messageID, err := gocql.ParseUUID(doc.MessageID)
	if err != nil {
		return nil, err
	}
	return &intent.Record{
		ID:             doc.ID,
		ConversationID: conversationID,
		MessageID:      messageID,
		SenderID:       doc.SenderID,
		RecipientID:    doc.RecipientID,
		OccurredAt:     doc.OccurredAt,
		NextAttempt:    doc.NextAttempt,
		Attempts:       doc.Attempts,
		LastError:      doc.LastError,
	}, nil
}

var _ intent.Log = (*Log)(nil)
