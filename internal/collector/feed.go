package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	collyfetcher "github.com/JakeFAU/sourcesync/internal/fetcher/colly"
	"github.com/JakeFAU/sourcesync/internal/ingest"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8"

// Feed collects RSS, Atom and JSON feeds.
type Feed struct {
	fetcher    Fetcher
	normalizer *Normalizer
}

// NewFeed builds a feed collector.
func NewFeed(fetcher Fetcher, normalizer *Normalizer) *Feed {
	return &Feed{fetcher: fetcher, normalizer: normalizer}
}

// Collect fetches the source URL and maps every linkable entry to an Item.
func (f *Feed) Collect(ctx context.Context, source ingest.Source) ([]ingest.Item, error) {
	resp, err := f.fetcher.Fetch(ctx, collyfetcher.Request{
		URL:     source.URL,
		Headers: http.Header{"Accept": {feedAccept}},
	})
	if err != nil {
		return nil, err
	}
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	base, _ := url.Parse(resp.URL)
	if base == nil || base.Host == "" {
		base, _ = url.Parse(source.URL)
	}
	maxItems := 0
	if source.Config.RSS != nil {
		maxItems = source.Config.RSS.MaxItems
	}

	items := make([]ingest.Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		link := resolveLink(base, extractLink(entry))
		if link == "" {
			continue
		}
		items = append(items, f.toItem(entry, link))
		if maxItems > 0 && len(items) >= maxItems {
			break
		}
	}
	return items, nil
}

func (f *Feed) toItem(entry *gofeed.Item, link string) ingest.Item {
	title := f.normalizer.Text(entry.Title)
	if title == "" {
		title = link
	}
	description := entry.Description
	if strings.TrimSpace(description) == "" {
		description = entry.Content
	}
	return ingest.Item{
		Title:       title,
		Link:        link,
		Description: f.normalizer.Text(description),
		Tags:        cleanTags(entry.Categories),
		Author:      f.normalizer.Text(authorName(entry)),
		PubDate:     pubDate(entry),
	}
}

// extractLink prefers the entry link and falls back to a GUID that looks
// like an HTTP URL.
func extractLink(entry *gofeed.Item) string {
	if strings.TrimSpace(entry.Link) != "" {
		return entry.Link
	}
	if strings.HasPrefix(entry.GUID, "http") {
		return entry.GUID
	}
	return ""
}

func authorName(entry *gofeed.Item) string {
	for _, a := range entry.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return a.Name
		}
	}
	if entry.Author != nil { //nolint:staticcheck
		return entry.Author.Name //nolint:staticcheck
	}
	return ""
}

func pubDate(entry *gofeed.Item) *time.Time {
	switch {
	case entry.PublishedParsed != nil:
		t := entry.PublishedParsed.UTC()
		return &t
	case entry.UpdatedParsed != nil:
		t := entry.UpdatedParsed.UTC()
		return &t
	default:
		return nil
	}
}

func cleanTags(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
