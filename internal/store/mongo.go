package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoStore keeps users and chats as documents in a MongoDB database.
type MongoStore struct {
	changeNotifier
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to MongoDB and ensures the indexes exist.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) users() *mongo.Collection { return s.db.Collection("users") }
func (s *MongoStore) chats() *mongo.Collection { return s.db.Collection("chats") }

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.users().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	// Backs ListTranscripts: where userId == ? order by updatedAt desc.
	_, err = s.chats().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "updatedAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create chats index: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Drop removes both collections. Used by integration tests.
func (s *MongoStore) Drop(ctx context.Context) error {
	if err := s.users().Drop(ctx); err != nil {
		return err
	}
	return s.chats().Drop(ctx)
}

// User methods

func (s *MongoStore) CreateUser(ctx context.Context, user *User) error {
	if _, err := s.users().InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*User, error) {
	var user User
	if err := s.users().FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) UpdateUser(ctx context.Context, user *User) error {
	res, err := s.users().UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": bson.M{
		"givenName":           user.GivenName,
		"familyName":          user.FamilyName,
		"fullName":            user.FullName,
		"program":             user.Program,
		"photoURL":            user.PhotoURL,
		"needsAdditionalInfo": user.NeedsAdditionalInfo,
		"federatedSubject":    user.FederatedSubject,
		"updatedAt":           user.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) RecordActivity(ctx context.Context, userID string, conversations, messages int, at time.Time) error {
	res, err := s.users().UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$inc": bson.M{
			"stats.totalConversations": conversations,
			"stats.totalMessages":      messages,
		},
		"$set": bson.M{
			"stats.lastActivity": at,
			"updatedAt":          at,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Chat methods

// mongoMessage keeps timestamp untyped: documents written by other clients
// may carry epoch numbers, strings or native timestamps.
type mongoMessage struct {
	ID        int64  `bson:"id"`
	Sender    string `bson:"sender"`
	Text      string `bson:"text"`
	Timestamp any    `bson:"timestamp"`
	Type      string `bson:"type,omitempty"`
	IsError   bool   `bson:"isError,omitempty"`
	FromAPI   bool   `bson:"fromAPI,omitempty"`
}

type mongoTranscript struct {
	ID          string         `bson:"_id"`
	UserID      string         `bson:"userId"`
	Title       string         `bson:"title"`
	LastMessage string         `bson:"lastMessage"`
	Messages    []mongoMessage `bson:"messages"`
	CreatedAt   any            `bson:"createdAt"`
	UpdatedAt   any            `bson:"updatedAt"`
}

func toMongoMessages(msgs []Message) []mongoMessage {
	out := make([]mongoMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, mongoMessage{
			ID:        m.ID,
			Sender:    m.Sender,
			Text:      m.Text,
			Timestamp: m.Timestamp,
			Type:      m.Type,
			IsError:   m.IsError,
			FromAPI:   m.FromAPI,
		})
	}
	return out
}

func (d mongoTranscript) toTranscript() Transcript {
	created, ok := normalizeOr(d.CreatedAt, time.Time{})
	if !ok {
		slog.Warn("chat has unrecognized createdAt", "chatId", d.ID, "value", d.CreatedAt)
	}
	updated, ok := normalizeOr(d.UpdatedAt, created)
	if !ok {
		slog.Warn("chat has unrecognized updatedAt", "chatId", d.ID, "value", d.UpdatedAt)
	}

	t := Transcript{
		ID:          d.ID,
		UserID:      d.UserID,
		Title:       d.Title,
		LastMessage: d.LastMessage,
		Messages:    make([]Message, 0, len(d.Messages)),
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
	for _, m := range d.Messages {
		ts, ok := normalizeOr(m.Timestamp, created)
		if !ok {
			slog.Warn("stored message has unrecognized timestamp, using transcript time", "chatId", d.ID, "messageId", m.ID)
		}
		t.Messages = append(t.Messages, Message{
			ID:        m.ID,
			Sender:    m.Sender,
			Text:      m.Text,
			Timestamp: ts,
			Type:      m.Type,
			IsError:   m.IsError,
			FromAPI:   m.FromAPI,
		})
	}
	return t
}

func (s *MongoStore) CreateTranscript(ctx context.Context, t *Transcript) error {
	doc := mongoTranscript{
		ID:          t.ID,
		UserID:      t.UserID,
		Title:       t.Title,
		LastMessage: t.LastMessage,
		Messages:    toMongoMessages(t.Messages),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if _, err := s.chats().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert chat: %w", err)
	}

	s.notify(ChangeEvent{Op: OperationCreate, UserID: t.UserID, TranscriptID: t.ID})
	return nil
}

func (s *MongoStore) GetTranscript(ctx context.Context, id string) (*Transcript, error) {
	var doc mongoTranscript
	if err := s.chats().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	t := doc.toTranscript()
	return &t, nil
}

// AppendMessages pushes msgs onto the chat's message array. The push is
// additive: concurrent appends from two writers both land, in server order.
func (s *MongoStore) AppendMessages(ctx context.Context, id string, msgs []Message, lastMessage string, at time.Time) error {
	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": toMongoMessages(msgs)}},
		"$set":  bson.M{"lastMessage": lastMessage, "updatedAt": at},
	}

	var doc struct {
		UserID string `bson:"userId"`
	}
	opts := options.FindOneAndUpdate().SetProjection(bson.M{"userId": 1})
	err := s.chats().FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to append to chat: %w", err)
	}

	s.notify(ChangeEvent{Op: OperationUpdate, UserID: doc.UserID, TranscriptID: id})
	return nil
}

func (s *MongoStore) ListTranscripts(ctx context.Context, userID string) ([]Transcript, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := s.chats().Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoTranscript
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode chats: %w", err)
	}

	chats := make([]Transcript, 0, len(docs))
	for _, d := range docs {
		chats = append(chats, d.toTranscript())
	}
	return chats, nil
}

func (s *MongoStore) DeleteTranscript(ctx context.Context, id string) error {
	var doc struct {
		UserID string `bson:"userId"`
	}
	opts := options.FindOneAndDelete().SetProjection(bson.M{"userId": 1})
	if err := s.chats().FindOneAndDelete(ctx, bson.M{"_id": id}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete chat: %w", err)
	}

	s.notify(ChangeEvent{Op: OperationDelete, UserID: doc.UserID, TranscriptID: id})
	return nil
}
