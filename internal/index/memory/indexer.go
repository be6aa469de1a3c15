// Package memory records indexed batches for tests and single-process runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// Indexer keeps every batch it receives.
type Indexer struct {
	mu      sync.RWMutex
	batches [][]ingest.Document
}

// New returns an empty Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Store records a copy of docs.
func (i *Indexer) Store(_ context.Context, docs []ingest.Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.batches = append(i.batches, append([]ingest.Document(nil), docs...))
	return nil
}

// Batches returns the recorded batches in arrival order.
func (i *Indexer) Batches() [][]ingest.Document {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([][]ingest.Document, len(i.batches))
	for n, batch := range i.batches {
		out[n] = append([]ingest.Document(nil), batch...)
	}
	return out
}

// Count returns the number of documents indexed so far.
func (i *Indexer) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	total := 0
	for _, batch := range i.batches {
		total += len(batch)
	}
	return total
}
