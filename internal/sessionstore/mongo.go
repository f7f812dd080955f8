package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/router"
)

const defaultMongoTimeout = 5 * time.Second

type sessionDocument struct {
	SessionID     string     `bson:"session_id"`
	ActiveAgentID string     `bson:"active_agent_id"`
	StackDepth    int        `bson:"stack_depth"`
	Snapshot      string     `bson:"snapshot"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
	ExpiresAt     *time.Time `bson:"expires_at"`
}

// collection is the slice of the driver the store needs. Tests substitute
// an in-memory implementation.
type collection interface {
	FindOne(ctx context.Context, filter any) singleResult
	Upsert(ctx context.Context, filter, update any) error
	DeleteOne(ctx context.Context, filter any) error
	EnsureIndexes(ctx context.Context) error
}

type singleResult interface {
	Decode(val any) error
}

// MongoStore keeps one document per session. A TTL index on expires_at
// lets the server delete expired sessions; Load also checks the expiry so
// documents awaiting the TTL monitor are never returned.
type MongoStore struct {
	client  *mongo.Client
	coll    collection
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewMongoStore connects to MongoDB and ensures the collection indexes.
func NewMongoStore(ctx context.Context, cfg config.MongoConfig, ttl time.Duration, logger *zap.Logger) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "router_sessions"
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	coll := mongoCollection{coll: client.Database(cfg.Database).Collection(cfg.Collection)}

	s := newMongoStore(client, coll, cfg.Timeout, ttl, logger)
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	ictx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := coll.EnsureIndexes(ictx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create mongo indexes: %w", err)
	}

	s.logger.Info("mongo session store ready",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection))
	return s, nil
}

func newMongoStore(client *mongo.Client, coll collection, timeout, ttl time.Duration, logger *zap.Logger) *MongoStore {
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		client:  client,
		coll:    coll,
		timeout: timeout,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(zap.String("component", "mongo_session_store")),
	}
}

// Load returns the snapshot of sessionID.
func (s *MongoStore) Load(ctx context.Context, sessionID string) (router.Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc sessionDocument
	if err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return router.Snapshot{}, ErrNotFound
		}
		return router.Snapshot{}, fmt.Errorf("mongo session store: load %s: %w", sessionID, err)
	}
	if doc.ExpiresAt != nil && !s.now().Before(*doc.ExpiresAt) {
		return router.Snapshot{}, ErrNotFound
	}

	var snap router.Snapshot
	if err := json.Unmarshal([]byte(doc.Snapshot), &snap); err != nil {
		return router.Snapshot{}, fmt.Errorf("mongo session store: decode %s: %w", sessionID, err)
	}
	return snap, nil
}

// Save upserts the session document. created_at is written on insert only.
func (s *MongoStore) Save(ctx context.Context, sessionID string, snap router.Snapshot) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("mongo session store: encode %s: %w", sessionID, err)
	}

	now := s.now()
	update := bson.M{
		"$setOnInsert": bson.M{
			"session_id": sessionID,
			"created_at": now,
		},
		"$set": bson.M{
			"active_agent_id": snap.ActiveAgentID,
			"stack_depth":     len(snap.Stack),
			"snapshot":        string(data),
			"updated_at":      now,
			"expires_at":      expiry(now, s.ttl),
		},
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.coll.Upsert(ctx, bson.M{"session_id": sessionID}, update); err != nil {
		return fmt.Errorf("mongo session store: save %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes sessionID.
func (s *MongoStore) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.coll.DeleteOne(ctx, bson.M{"session_id": sessionID}); err != nil {
		return fmt.Errorf("mongo session store: delete %s: %w", sessionID, err)
	}
	return nil
}

// Ping checks the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// =============================================================================
// driver adapter
// =============================================================================

type mongoCollection struct {
	coll *mongo.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoCollection) Upsert(ctx context.Context, filter, update any) error {
	_, err := c.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any) error {
	_, err := c.coll.DeleteOne(ctx, filter)
	return err
}

func (c mongoCollection) EnsureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	return err
}
