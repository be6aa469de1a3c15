package ingest

import (
	"context"
	"io"
	"time"
)

// Store persists sources and documents. Scheduler-level queries run on the
// store itself; each worker opens its own Session for collection-time I/O.
type Store interface {
	OpenSession(ctx context.Context) (Session, error)
	CreateSource(ctx context.Context, source Source) error
	GetSource(ctx context.Context, id string) (Source, error)
	ListSources(ctx context.Context) ([]Source, error)
	ListDueSources(ctx context.Context, now time.Time) ([]Source, error)
	SetPaused(ctx context.Context, id string, paused bool, at time.Time) error
	ResetErrors(ctx context.Context, id string, at time.Time) error
	DeleteSource(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// Session is a storage session owned by exactly one worker.
type Session interface {
	GetSource(ctx context.Context, id string) (Source, error)
	DocumentExists(ctx context.Context, link string) (bool, error)
	CreateDocument(ctx context.Context, doc Document) error
	RecordSync(ctx context.Context, sourceID string, outcome SyncOutcome) error
	Close(ctx context.Context) error
}

// Collector turns a source's raw content into normalized items.
type Collector interface {
	Collect(ctx context.Context, source Source) ([]Item, error)
}

// Indexer receives newly created documents for search indexing.
type Indexer interface {
	Store(ctx context.Context, docs []Document) error
}

// Notifier tells downstream consumers about newly created documents.
type Notifier interface {
	Notify(ctx context.Context, source Source, docs []Document) error
}

// Publisher pushes a payload to a topic (Pub/Sub, Redis stream, memory).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests used for object naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
