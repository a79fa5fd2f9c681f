package checkpoint

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pgoagent/agentserver/internal/convmodel"
)

const defaultOpTimeout = 5 * time.Second

// MongoStore is a Store[*convmodel.ConversationState] backed by a single
// MongoDB collection, grounded on the session-store/client wiring pattern
// used throughout the teacher's features/*/mongo packages: a thin domain
// store delegating to the driver, idempotent index setup, and a
// withTimeout(ctx) helper bounding every operation.
type MongoStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewMongoStore constructs a MongoStore. collection defaults to
// "conversation_checkpoints" when empty.
func NewMongoStore(db *mongo.Database, collection string, timeout time.Duration) *MongoStore {
	if collection == "" {
		collection = "conversation_checkpoints"
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

// Setup creates the unique index on thread_id. Idempotent.
func (s *MongoStore) Setup(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := s.coll.Indexes().CreateOne(ctx, idx)
	return err
}

type checkpointDocument struct {
	ThreadID  string                         `bson:"thread_id"`
	State     *convmodel.ConversationState   `bson:"state"`
	UpdatedAt time.Time                      `bson:"updated_at"`
}

// Load returns the stored ConversationState for threadID.
func (s *MongoStore) Load(ctx context.Context, threadID string) (*convmodel.ConversationState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc checkpointDocument
	err := s.coll.FindOne(ctx, bson.M{"thread_id": threadID}).Decode(&doc)
	switch {
	case err == nil:
		return doc.State, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

// Save atomically replaces the stored ConversationState for threadID. A
// single stage is the atomic write boundary (spec.md §4.4); callers invoke
// Save once per stage transition.
func (s *MongoStore) Save(ctx context.Context, threadID string, state *convmodel.ConversationState) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"thread_id": threadID}
	update := bson.M{
		"$set": bson.M{
			"thread_id":  threadID,
			"state":      state,
			"updated_at": time.Now().UTC(),
		},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}
