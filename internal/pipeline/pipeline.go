// Package pipeline deduplicates collected items by link and persists the
// ones not seen before.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/metrics"
)

// Pipeline turns items into documents within a worker's session.
type Pipeline struct {
	idGen  ingest.IDGenerator
	clock  ingest.Clock
	logger *zap.Logger
}

// New constructs a Pipeline.
func New(idGen ingest.IDGenerator, clock ingest.Clock, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{idGen: idGen, clock: clock, logger: logger.Named("pipeline")}
}

// Ingest processes items in order and returns only the documents created by
// this call. A failing item is logged and skipped; the batch continues. If
// ctx is canceled the documents persisted so far are returned with the
// context error.
func (p *Pipeline) Ingest(
	ctx context.Context,
	session ingest.Session,
	source ingest.Source,
	items []ingest.Item,
) ([]ingest.Document, error) {
	created := make([]ingest.Document, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return created, fmt.Errorf("ingest canceled: %w", err)
		}
		doc, ok, err := p.ingestOne(ctx, session, source, item)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return created, fmt.Errorf("ingest canceled: %w", ctxErr)
			}
			metrics.ObserveItemSkipped("persist_error")
			p.logger.Warn("item not persisted",
				zap.String("source_id", source.ID),
				zap.String("link", item.Link),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			metrics.ObserveItemSkipped("duplicate")
			continue
		}
		created = append(created, doc)
	}
	metrics.AddDocumentsCreated(string(source.Type), len(created))
	return created, nil
}

func (p *Pipeline) ingestOne(
	ctx context.Context,
	session ingest.Session,
	source ingest.Source,
	item ingest.Item,
) (ingest.Document, bool, error) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return ingest.Document{}, false, &ingest.PersistenceError{Link: item.Link, Err: errors.New("item has no link")}
	}
	exists, err := session.DocumentExists(ctx, link)
	if err != nil {
		return ingest.Document{}, false, &ingest.PersistenceError{Link: link, Err: err}
	}
	if exists {
		return ingest.Document{}, false, nil
	}
	id, err := p.idGen.NewID()
	if err != nil {
		return ingest.Document{}, false, &ingest.PersistenceError{Link: link, Err: err}
	}
	doc := ingest.Document{
		ID:          id,
		Title:       item.Title,
		Link:        link,
		Description: item.Description,
		Tags:        append([]string(nil), item.Tags...),
		Author:      item.Author,
		PubDate:     item.PubDate,
		SourceID:    source.ID,
		CrawledAt:   p.clock.Now(),
	}
	if err := session.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, ingest.ErrDuplicateLink) {
			return ingest.Document{}, false, nil
		}
		return ingest.Document{}, false, &ingest.PersistenceError{Link: link, Err: err}
	}
	return doc, true, nil
}
