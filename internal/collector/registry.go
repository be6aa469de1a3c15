package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// Registry dispatches collection to the collector registered for a source type.
type Registry struct {
	collectors map[ingest.SourceType]ingest.Collector
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[ingest.SourceType]ingest.Collector)}
}

// Register binds c to t, replacing any earlier binding.
func (r *Registry) Register(t ingest.SourceType, c ingest.Collector) *Registry {
	r.collectors[t] = c
	return r
}

// Collect runs the collector for source.Type. Every failure comes back as
// an *ingest.CollectionError.
func (r *Registry) Collect(ctx context.Context, source ingest.Source) ([]ingest.Item, error) {
	c, ok := r.collectors[source.Type]
	if !ok {
		return nil, &ingest.CollectionError{
			SourceID: source.ID,
			Err:      fmt.Errorf("no collector registered for source type %q", source.Type),
		}
	}
	items, err := c.Collect(ctx, source)
	if err != nil {
		var collErr *ingest.CollectionError
		if errors.As(err, &collErr) {
			return nil, err
		}
		return nil, &ingest.CollectionError{SourceID: source.ID, Err: err}
	}
	return items, nil
}
