package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	collyfetcher "github.com/JakeFAU/sourcesync/internal/fetcher/colly"
	"github.com/JakeFAU/sourcesync/internal/hash/sha256"
	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// Web applies configured CSS selector pairs to a single fetched page.
type Web struct {
	fetcher    Fetcher
	normalizer *Normalizer
}

// NewWeb builds a web collector.
func NewWeb(fetcher Fetcher, normalizer *Normalizer) *Web {
	return &Web{fetcher: fetcher, normalizer: normalizer}
}

// Collect fetches the page and extracts one item per matching selector pair
// (or per container element when a container is configured). Links are not
// followed.
func (w *Web) Collect(ctx context.Context, source ingest.Source) ([]ingest.Item, error) {
	if source.Config.Web == nil {
		return nil, fmt.Errorf("web source %s has no selector config", source.ID)
	}
	resp, err := w.fetcher.Fetch(ctx, collyfetcher.Request{URL: source.URL})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	pageURL := resp.URL
	if pageURL == "" {
		pageURL = source.URL
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	cfg := source.Config.Web
	var items []ingest.Item
	for _, pair := range cfg.Selectors {
		if cfg.Container == "" {
			if item, ok := w.extract(doc.Selection, pair, base); ok {
				items = append(items, item)
			}
			continue
		}
		doc.Find(cfg.Container).Each(func(_ int, scope *goquery.Selection) {
			if item, ok := w.extract(scope, pair, base); ok {
				items = append(items, item)
			}
		})
	}
	return items, nil
}

func (w *Web) extract(scope *goquery.Selection, pair ingest.SelectorPair, base *url.URL) (ingest.Item, bool) {
	titleSel := scope.Find(pair.Title).First()
	title := w.normalizer.Text(titleSel.Text())

	var parts []string
	scope.Find(pair.Content).Each(func(_ int, s *goquery.Selection) {
		if h, err := goquery.OuterHtml(s); err == nil {
			parts = append(parts, h)
		}
	})
	content := w.normalizer.Text(strings.Join(parts, "\n"))
	if title == "" || content == "" {
		return ingest.Item{}, false
	}

	link := resolveLink(base, titleHref(titleSel))
	if link == "" {
		link = anchorlessLink(base, title)
	}
	return ingest.Item{
		Title:       title,
		Link:        link,
		Description: content,
	}, true
}

// titleHref finds the anchor at, inside, or around the title element.
func titleHref(sel *goquery.Selection) string {
	if href, ok := sel.Filter("a[href]").Attr("href"); ok {
		return href
	}
	if href, ok := sel.Find("a[href]").First().Attr("href"); ok {
		return href
	}
	if href, ok := sel.Closest("a[href]").Attr("href"); ok {
		return href
	}
	return ""
}

// anchorlessKeyLen is the digest length appended to the page URL for items
// whose title carries no link.
const anchorlessKeyLen = 12

// anchorlessLink derives a stable per-item link from the page URL and the
// normalized title so items without an anchor still dedup independently.
func anchorlessLink(base *url.URL, title string) string {
	digest, err := sha256.New().Hash([]byte(title))
	if err != nil {
		return base.String()
	}
	u := *base
	u.Fragment = digest[:anchorlessKeyLen]
	u.RawFragment = ""
	return u.String()
}
