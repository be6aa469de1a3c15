// Package mongo provides a MongoDB-backed source and document store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// Config selects the deployment and database.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store implements ingest.Store on MongoDB. Sources and documents live in
// the "sources" and "documents" collections; documents carry a unique index
// on link.
type Store struct {
	client    *mongo.Client
	sources   *mongo.Collection
	documents *mongo.Collection
}

// NewStore connects, pings and ensures indexes.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("database.uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "sourcesync"
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(cfg.Database)
	s := &Store{
		client:    client,
		sources:   db.Collection("sources"),
		documents: db.Collection("documents"),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.documents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "link", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create documents.link index: %w", err)
	}
	if _, err := s.sources.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "is_paused", Value: 1}, {Key: "next_sync", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create sources due index: %w", err)
	}
	return nil
}

// OpenSession starts a driver session owned by one worker.
func (s *Store) OpenSession(ctx context.Context) (ingest.Session, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start mongo session: %w", err)
	}
	return &session{store: s, sess: sess}, nil
}

// CreateSource inserts a source document.
func (s *Store) CreateSource(ctx context.Context, src ingest.Source) error {
	rec, err := toSourceRecord(src)
	if err != nil {
		return err
	}
	if _, err := s.sources.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetSource fetches one source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (ingest.Source, error) {
	return getSource(ctx, s.sources, id)
}

// ListSources returns all sources ordered by ID.
func (s *Store) ListSources(ctx context.Context) ([]ingest.Source, error) {
	return s.find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

// ListDueSources returns active, unpaused sources whose next_sync has passed.
func (s *Store) ListDueSources(ctx context.Context, now time.Time) ([]ingest.Source, error) {
	return s.find(ctx, dueFilter(now), options.Find().SetSort(bson.D{{Key: "next_sync", Value: 1}}))
}

func dueFilter(now time.Time) bson.M {
	return bson.M{
		"is_active": true,
		"is_paused": false,
		"next_sync": bson.M{"$lte": now},
	}
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]ingest.Source, error) {
	cursor, err := s.sources.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find sources: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var out []ingest.Source
	for cursor.Next(ctx) {
		var rec sourceRecord
		if err := cursor.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode source: %w", err)
		}
		src, err := rec.toSource()
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// SetPaused toggles is_paused.
func (s *Store) SetPaused(ctx context.Context, id string, paused bool, at time.Time) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{"is_paused": paused, "updated_at": at}})
}

// ResetErrors clears sync_errors and last_error.
func (s *Store) ResetErrors(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{"sync_errors": 0, "last_error": nil, "updated_at": at}})
}

// DeleteSource removes a source; its documents are kept.
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	res, err := s.sources.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if res.DeletedCount == 0 {
		return ingest.ErrSourceNotFound
	}
	return nil
}

func (s *Store) update(ctx context.Context, id string, update bson.M) error {
	res, err := s.sources.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	if res.MatchedCount == 0 {
		return ingest.ErrSourceNotFound
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

type session struct {
	store  *Store
	sess   mongo.Session
	closed bool
}

func (ss *session) ctx(ctx context.Context) (context.Context, error) {
	if ss.closed {
		return nil, errors.New("session closed")
	}
	return mongo.NewSessionContext(ctx, ss.sess), nil
}

func (ss *session) GetSource(ctx context.Context, id string) (ingest.Source, error) {
	sctx, err := ss.ctx(ctx)
	if err != nil {
		return ingest.Source{}, err
	}
	return getSource(sctx, ss.store.sources, id)
}

func (ss *session) DocumentExists(ctx context.Context, link string) (bool, error) {
	sctx, err := ss.ctx(ctx)
	if err != nil {
		return false, err
	}
	n, err := ss.store.documents.CountDocuments(sctx, bson.M{"link": link}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check document link: %w", err)
	}
	return n > 0, nil
}

func (ss *session) CreateDocument(ctx context.Context, doc ingest.Document) error {
	sctx, err := ss.ctx(ctx)
	if err != nil {
		return err
	}
	if _, err := ss.store.documents.InsertOne(sctx, toDocumentRecord(doc)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ingest.ErrDuplicateLink
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (ss *session) RecordSync(ctx context.Context, sourceID string, outcome ingest.SyncOutcome) error {
	sctx, err := ss.ctx(ctx)
	if err != nil {
		return err
	}
	res, err := ss.store.sources.UpdateOne(sctx, bson.M{"_id": sourceID}, syncUpdate(outcome))
	if err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	if res.MatchedCount == 0 {
		return ingest.ErrSourceNotFound
	}
	return nil
}

func (ss *session) Close(ctx context.Context) error {
	if ss.closed {
		return nil
	}
	ss.closed = true
	ss.sess.EndSession(ctx)
	return nil
}

// syncUpdate builds the single-document update applying an outcome.
func syncUpdate(outcome ingest.SyncOutcome) bson.M {
	if outcome.Success {
		n := outcome.DocumentCount
		if n < 0 {
			n = 0
		}
		return bson.M{
			"$set": bson.M{
				"last_sync":           outcome.At,
				"next_sync":           outcome.NextSync,
				"last_document_count": n,
				"sync_errors":         0,
				"last_error":          nil,
				"updated_at":          outcome.At,
			},
			"$inc": bson.M{"total_documents": int64(n)},
		}
	}
	return bson.M{
		"$set": bson.M{
			"next_sync":  outcome.NextSync,
			"last_error": outcome.Error,
			"updated_at": outcome.At,
		},
		"$inc": bson.M{"sync_errors": 1},
	}
}

func getSource(ctx context.Context, coll *mongo.Collection, id string) (ingest.Source, error) {
	var rec sourceRecord
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ingest.Source{}, ingest.ErrSourceNotFound
	}
	if err != nil {
		return ingest.Source{}, fmt.Errorf("get source: %w", err)
	}
	return rec.toSource()
}
