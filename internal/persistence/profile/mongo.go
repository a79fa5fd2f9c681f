package profile

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pgoagent/agentserver/internal/convmodel"
)

const (
	namespace        = "user_memory"
	profileKey       = "profile"
	defaultOpTimeout = 5 * time.Second
)

// MongoStore is a Store backed by a single MongoDB collection, grounded on
// features/memory/mongo's store/client wiring: one document per
// (namespace, user_id, key), value holds the opaque {memory: text} object.
type MongoStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewMongoStore constructs a MongoStore. collection defaults to
// "user_profiles" when empty.
func NewMongoStore(db *mongo.Database, collection string, timeout time.Duration) *MongoStore {
	if collection == "" {
		collection = "user_profiles"
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &MongoStore{coll: db.Collection(collection), timeout: timeout}
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Setup creates the unique index on (namespace, user_id, key). Idempotent.
func (s *MongoStore) Setup(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	idx := mongo.IndexModel{
		Keys: bson.D{
			{Key: "namespace", Value: 1},
			{Key: "user_id", Value: 1},
			{Key: "key", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	_, err := s.coll.Indexes().CreateOne(ctx, idx)
	return err
}

type profileDocument struct {
	Namespace string `bson:"namespace"`
	UserID    string `bson:"user_id"`
	Key       string `bson:"key"`
	Memory    string `bson:"memory"`
}

func (s *MongoStore) filter(userID string) bson.M {
	return bson.M{"namespace": namespace, "user_id": userID, "key": profileKey}
}

// Get returns the stored profile memory for userID, or ErrNotFound.
func (s *MongoStore) Get(ctx context.Context, userID string) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc profileDocument
	err := s.coll.FindOne(ctx, s.filter(userID)).Decode(&doc)
	switch {
	case err == nil:
		return doc.Memory, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return "", ErrNotFound
	default:
		return "", err
	}
}

// Put writes memory for userID, normalizing any recognized "empty" spelling
// to the canonical literal first (spec.md §3/§8).
func (s *MongoStore) Put(ctx context.Context, userID string, memory string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"namespace": namespace,
			"user_id":   userID,
			"key":       profileKey,
			"memory":    convmodel.NormalizeProfile(memory),
		},
	}
	_, err := s.coll.UpdateOne(ctx, s.filter(userID), update, options.UpdateOne().SetUpsert(true))
	return err
}

// Delete removes the stored profile for userID.
func (s *MongoStore) Delete(ctx context.Context, userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, s.filter(userID))
	return err
}
