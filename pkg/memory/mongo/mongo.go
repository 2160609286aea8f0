package mongo

import (
	"context"
	"time"

	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/memory/consts"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMemory stores each Append batch as one document, so a batch is
// written atomically without a multi-document transaction.
type MongoMemory struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type messageDoc struct {
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

type batchDoc struct {
	SessionID string       `bson:"session_id"`
	CreatedAt time.Time    `bson:"created_at"`
	Messages  []messageDoc `bson:"messages"`
}

// New creates a new MongoMemory adapter.
func New(client *mongo.Client, dbName, collectionName string) *MongoMemory {
	return &MongoMemory{
		client:     client,
		collection: client.Database(dbName).Collection(collectionName),
	}
}

// EnsureIndexes creates the session lookup index.
func (m *MongoMemory) EnsureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: consts.ColSessionID, Value: 1}, {Key: consts.ColCreatedAt, Value: 1}},
	})
	return err
}

func (m *MongoMemory) Append(ctx context.Context, sessionID string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	doc := batchDoc{
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		Messages:  make([]messageDoc, len(msgs)),
	}
	for i, msg := range msgs {
		doc.Messages[i] = messageDoc{Role: string(msg.Role), Content: msg.Content, CreatedAt: msg.Time}
	}

	_, err := m.collection.InsertOne(ctx, doc)
	return err
}

func (m *MongoMemory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	filter := bson.M{consts.ColSessionID: sessionID}
	opts := options.Find().SetSort(bson.D{{Key: consts.ColCreatedAt, Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []llm.Message
	for cursor.Next(ctx) {
		var doc batchDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		for _, md := range doc.Messages {
			messages = append(messages, llm.Message{
				Role:    llm.Role(md.Role),
				Content: md.Content,
				Time:    md.CreatedAt,
			})
		}
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (m *MongoMemory) Clear(ctx context.Context, sessionID string) error {
	_, err := m.collection.DeleteMany(ctx, bson.M{consts.ColSessionID: sessionID})
	return err
}

// Close disconnects the client.
func (m *MongoMemory) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
