package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/handsfree/internal/conversation"
)

// AudioSaver stores chunk bytes somewhere addressable.
type AudioSaver interface {
	SaveAudioChunk(ctx context.Context, conversationID, messageID string, index int, pcm []byte) (string, error)
}

// MongoStore keeps one document per conversation. Messages and chunk
// references are pushed onto arrays; chunk bytes go to an AudioSaver.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	audio      AudioSaver
	logger     *zap.Logger
}

type chunkDoc struct {
	MessageID string    `bson:"message_id"`
	Index     int       `bson:"index"`
	Path      string    `bson:"path"`
	SavedAt   time.Time `bson:"saved_at"`
}

// ConversationDoc is the stored shape of a conversation.
type ConversationDoc struct {
	ID        string                 `bson:"_id"`
	CreatedAt time.Time              `bson:"created_at"`
	UpdatedAt time.Time              `bson:"updated_at"`
	Messages  []conversation.Message `bson:"messages"`
	Chunks    []chunkDoc             `bson:"chunks"`
}

// ConnectMongo dials uri and pings the server.
func ConnectMongo(ctx context.Context, uri string, logger *zap.Logger) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(mongoMaxPoolSize).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(mongoMaxConnIdleTime).
		SetServerSelectionTimeout(mongoSelectTimeout).
		SetConnectTimeout(mongoConnectTimeout)

	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	if logger != nil {
		logger.Info("connected to MongoDB")
	}
	return client, nil
}

// NewMongoStore stores conversations in db.conversations.
func NewMongoStore(client *mongo.Client, database string, audio AudioSaver, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(DefaultCollection),
		audio:      audio,
		logger:     logger,
	}
}

// AppendMessage pushes msg onto the conversation, creating it on first write.
func (s *MongoStore) AppendMessage(ctx context.Context, conversationID string, msg conversation.Message) error {
	if conversationID == "" {
		return errors.New("conversation ID cannot be empty")
	}
	now := time.Now()
	update := bson.M{
		"$push":        bson.M{"messages": msg},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": conversationID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// SaveAudioChunk stores the bytes and pushes the reference onto the conversation.
func (s *MongoStore) SaveAudioChunk(ctx context.Context, conversationID, messageID string, index int, pcm []byte) (string, error) {
	path, err := s.audio.SaveAudioChunk(ctx, conversationID, messageID, index, pcm)
	if err != nil {
		return "", err
	}
	now := time.Now()
	update := bson.M{
		"$push":        bson.M{"chunks": chunkDoc{MessageID: messageID, Index: index, Path: path, SavedAt: now}},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	if _, err := s.collection.UpdateOne(ctx, bson.M{"_id": conversationID}, update, options.Update().SetUpsert(true)); err != nil {
		return "", fmt.Errorf("record chunk: %w", err)
	}
	return path, nil
}

// Load returns a stored conversation, or nil if it does not exist.
func (s *MongoStore) Load(ctx context.Context, conversationID string) (*ConversationDoc, error) {
	var doc ConversationDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	return &doc, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Error("disconnect from MongoDB", zap.Error(err))
		return err
	}
	s.logger.Info("disconnected from MongoDB")
	return nil
}
