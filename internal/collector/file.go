package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// File replays rows parsed at import time. It performs no I/O.
type File struct{}

// NewFile builds a file collector.
func NewFile() *File {
	return &File{}
}

// Collect maps each configured row to one Item.
func (File) Collect(ctx context.Context, source ingest.Source) ([]ingest.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect file source: %w", err)
	}
	if source.Config.File == nil {
		return nil, fmt.Errorf("file source %s has no rows", source.ID)
	}
	rows := source.Config.File.Rows
	items := make([]ingest.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, ingest.Item{
			Title:       strings.TrimSpace(row.Title),
			Link:        strings.TrimSpace(row.Link),
			Description: strings.TrimSpace(row.Description),
			Tags:        cleanTags(row.Tags),
			Author:      strings.TrimSpace(row.Author),
			PubDate:     row.PubDate,
		})
	}
	return items, nil
}
