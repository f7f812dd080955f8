package sessionstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/BaSui01/agentrelay/config"
)

// fakeCollection applies $setOnInsert/$set upserts to in-memory documents
// and decodes through a real BSON round trip.
type fakeCollection struct {
	mu      sync.Mutex
	docs    map[string]bson.M
	indexed bool
	err     error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]bson.M)}
}

type fakeResult struct {
	doc bson.M
	err error
}

func (r fakeResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	data, err := bson.Marshal(r.doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, val)
}

func sessionIDOf(filter any) string {
	id, _ := filter.(bson.M)["session_id"].(string)
	return id
}

func (c *fakeCollection) FindOne(_ context.Context, filter any) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fakeResult{err: c.err}
	}
	doc, ok := c.docs[sessionIDOf(filter)]
	if !ok {
		return fakeResult{err: mongo.ErrNoDocuments}
	}
	return fakeResult{doc: doc}
}

func (c *fakeCollection) Upsert(_ context.Context, filter, update any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	id := sessionIDOf(filter)
	u := update.(bson.M)
	doc, ok := c.docs[id]
	if !ok {
		doc = bson.M{}
		for k, v := range u["$setOnInsert"].(bson.M) {
			doc[k] = v
		}
	}
	for k, v := range u["$set"].(bson.M) {
		doc[k] = v
	}
	c.docs[id] = doc
	return nil
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	delete(c.docs, sessionIDOf(filter))
	return nil
}

func (c *fakeCollection) EnsureIndexes(context.Context) error {
	c.indexed = true
	return nil
}

func TestMongoStore(t *testing.T) {
	exerciseStore(t, newMongoStore(nil, newFakeCollection(), 0, time.Hour, nil))
}

func TestMongoStore_Document(t *testing.T) {
	coll := newFakeCollection()
	s := newMongoStore(nil, coll, time.Second, 0, nil)
	created := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	now := created
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "sess-1", sampleSnapshot()))
	now = now.Add(time.Minute)
	require.NoError(t, s.Save(ctx, "sess-1", sampleSnapshot()))

	doc := coll.docs["sess-1"]
	assert.Equal(t, "sess-1", doc["session_id"])
	assert.Equal(t, "RISK", doc["active_agent_id"])
	assert.Equal(t, 2, doc["stack_depth"])
	assert.Equal(t, created, doc["created_at"])
	assert.Equal(t, now, doc["updated_at"])
	assert.Nil(t, doc["expires_at"])
}

func TestMongoStore_Expiry(t *testing.T) {
	s := newMongoStore(nil, newFakeCollection(), 0, time.Minute, nil)
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "sess-1", sampleSnapshot()))
	now = now.Add(59 * time.Second)
	_, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = s.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoStore_BackendError(t *testing.T) {
	coll := newFakeCollection()
	coll.err = errors.New("connection reset")
	s := newMongoStore(nil, coll, 0, 0, nil)
	ctx := context.Background()

	_, err := s.Load(ctx, "sess-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorContains(t, s.Save(ctx, "sess-1", sampleSnapshot()), "connection reset")
	assert.ErrorContains(t, s.Delete(ctx, "sess-1"), "connection reset")
}

func TestMongoStore_Defaults(t *testing.T) {
	s := newMongoStore(nil, newFakeCollection(), 0, 0, nil)
	assert.Equal(t, defaultMongoTimeout, s.timeout)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}

func TestNewMongoStore_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := NewMongoStore(ctx, config.MongoConfig{Database: "relay"}, 0, nil)
	assert.ErrorContains(t, err, "uri")
	_, err = NewMongoStore(ctx, config.MongoConfig{URI: "mongodb://localhost:27017"}, 0, nil)
	assert.ErrorContains(t, err, "database")
}
