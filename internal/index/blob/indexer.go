// Package blob writes each indexed batch as a JSON Lines object into a blob
// store (memory, local filesystem or GCS).
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/hash/sha256"
	"github.com/JakeFAU/sourcesync/internal/ingest"
)

const contentTypeJSONL = "application/x-ndjson"

const digestLen = 12

// Config controls object naming.
type Config struct {
	Prefix string
	// Hasher digests the first link of a batch; SHA-256 when nil.
	Hasher ingest.Hasher
}

// Indexer serializes documents to JSONL and uploads one object per batch.
type Indexer struct {
	blobs  ingest.BlobStore
	clock  ingest.Clock
	hasher ingest.Hasher
	prefix string
	logger *zap.Logger
}

// New builds an Indexer writing through blobs.
func New(blobs ingest.BlobStore, clock ingest.Clock, cfg Config, logger *zap.Logger) (*Indexer, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = sha256.New()
	}
	return &Indexer{
		blobs:  blobs,
		clock:  clock,
		hasher: hasher,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.Named("blob_indexer"),
	}, nil
}

// Store uploads docs as one object. Batches are expected to share a source.
func (i *Indexer) Store(ctx context.Context, docs []ingest.Document) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode document %s: %w", doc.ID, err)
		}
	}
	name, err := i.ObjectPath(docs)
	if err != nil {
		return err
	}
	uri, err := i.blobs.PutObject(ctx, name, contentTypeJSONL, &buf)
	if err != nil {
		return fmt.Errorf("put index object %s: %w", name, err)
	}
	i.logger.Debug("index batch written",
		zap.String("source_id", docs[0].SourceID),
		zap.Int("documents", len(docs)),
		zap.String("uri", uri),
	)
	return nil
}

// ObjectPath names the object for a batch:
// <prefix>/<source_id>/<unix>-<digest(first link)[:12]>.jsonl.
func (i *Indexer) ObjectPath(docs []ingest.Document) (string, error) {
	if len(docs) == 0 {
		return "", errors.New("object path for empty batch")
	}
	first := docs[0]
	sourceID := first.SourceID
	if sourceID == "" {
		sourceID = "unknown"
	}
	digest, err := i.hasher.Hash([]byte(first.Link))
	if err != nil {
		return "", fmt.Errorf("digest link %s: %w", first.Link, err)
	}
	if len(digest) > digestLen {
		digest = digest[:digestLen]
	}
	file := strconv.FormatInt(i.clock.Now().Unix(), 10) + "-" + digest + ".jsonl"
	if i.prefix == "" {
		return path.Join(sourceID, file), nil
	}
	return path.Join(i.prefix, sourceID, file), nil
}
