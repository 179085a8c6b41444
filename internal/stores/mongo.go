package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type associationDocument struct {
	ID        string    `bson:"_id"`
	ServerURL string    `bson:"server_url"`
	Handle    string    `bson:"handle"`
	Payload   []byte    `bson:"payload"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type nonceDocument struct {
	ID        string `bson:"_id"`
	ServerURL string `bson:"server_url"`
	Timestamp int64  `bson:"timestamp"`
	Salt      string `bson:"salt"`
}

// MongoAssociations keeps associations in a MongoDB collection keyed by _id.
type MongoAssociations struct {
	coll *mongo.Collection
}

// NewMongoAssociations returns the association collection named by ns in db.
func NewMongoAssociations(db *mongo.Database, ns Namespace) *MongoAssociations {
	ns = ns.withDefaults()
	return &MongoAssociations{coll: db.Collection(ns.Associations)}
}

// EnsureIndexes creates the secondary indexes used by FindByServer and
// DeleteExpired. The _id uniqueness constraint is built in.
func (s *MongoAssociations) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "server_url", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Put upserts rec by _id.
func (s *MongoAssociations) Put(ctx context.Context, rec *AssociationRecord) error {
	doc := associationDocument{
		ID:        rec.ID,
		ServerURL: rec.ServerURL,
		Handle:    rec.Handle,
		Payload:   rec.Payload,
		ExpiresAt: rec.ExpiresAt.UTC(),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get finds the document matching _id, server URL and handle.
func (s *MongoAssociations) Get(ctx context.Context, id, serverURL, handle string) (*AssociationRecord, error) {
	var doc associationDocument
	err := s.coll.FindOne(ctx, bson.M{
		"_id":        id,
		"server_url": serverURL,
		"handle":     handle,
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return doc.record(), nil
}

// FindByServer returns every association stored for serverURL.
func (s *MongoAssociations) FindByServer(ctx context.Context, serverURL string) ([]*AssociationRecord, error) {
	cur, err := s.coll.Find(ctx, bson.M{"server_url": serverURL})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var docs []associationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out := make([]*AssociationRecord, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].record())
	}
	return out, nil
}

// Delete removes at most one matching document.
func (s *MongoAssociations) Delete(ctx context.Context, id, serverURL, handle string) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, bson.M{
		"_id":        id,
		"server_url": serverURL,
		"handle":     handle,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return res.DeletedCount == 1, nil
}

// DeleteExpired removes documents with expires_at before now.
func (s *MongoAssociations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return res.DeletedCount, nil
}

func (d *associationDocument) record() *AssociationRecord {
	return &AssociationRecord{
		ID:        d.ID,
		ServerURL: d.ServerURL,
		Handle:    d.Handle,
		Payload:   d.Payload,
		ExpiresAt: d.ExpiresAt,
	}
}

// MongoNonces keeps admitted nonces in a MongoDB collection. The _id unique
// index is the replay guard.
type MongoNonces struct {
	coll *mongo.Collection
}

// NewMongoNonces returns the nonce collection named by ns in db.
func NewMongoNonces(db *mongo.Database, ns Namespace) *MongoNonces {
	ns = ns.withDefaults()
	return &MongoNonces{coll: db.Collection(ns.Nonces)}
}

// EnsureIndexes creates the timestamp index used by DeleteOutside.
func (s *MongoNonces) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Insert relies on the _id uniqueness of the collection.
func (s *MongoNonces) Insert(ctx context.Context, rec *NonceRecord) error {
	_, err := s.coll.InsertOne(ctx, nonceDocument{
		ID:        rec.ID,
		ServerURL: rec.ServerURL,
		Timestamp: rec.Timestamp,
		Salt:      rec.Salt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// DeleteOutside removes nonces with timestamp before lo or after hi.
func (s *MongoNonces) DeleteOutside(ctx context.Context, lo, hi int64) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{"timestamp": bson.M{"$lt": lo}},
		bson.M{"timestamp": bson.M{"$gt": hi}},
	}})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return res.DeletedCount, nil
}
