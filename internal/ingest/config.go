package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SourceConfig is the typed per-type configuration of a Source. Exactly one
// member matches the source type; RSS may be left nil to use defaults.
type SourceConfig struct {
	RSS  *RSSConfig  `json:"rss,omitempty"`
	Web  *WebConfig  `json:"web,omitempty"`
	File *FileConfig `json:"file,omitempty"`
}

// RSSConfig tunes the feed collector.
type RSSConfig struct {
	// MaxItems caps the entries taken per collection; zero keeps all.
	MaxItems int `json:"max_items,omitempty" mapstructure:"max_items"`
}

// WebConfig holds the selectors applied to a fetched page.
type WebConfig struct {
	// Container optionally scopes each selector pair to repeated elements.
	Container string         `json:"container,omitempty" mapstructure:"container"`
	Selectors []SelectorPair `json:"selectors" mapstructure:"selectors"`
}

// SelectorPair locates the title and content of one item.
type SelectorPair struct {
	Title   string `json:"title" mapstructure:"title"`
	Content string `json:"content" mapstructure:"content"`
}

// FileConfig carries rows parsed ahead of time from an import.
type FileConfig struct {
	Origin string    `json:"origin,omitempty" mapstructure:"origin"`
	Rows   []FileRow `json:"rows" mapstructure:"rows"`
}

// FileRow is one pre-parsed import row.
type FileRow struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Author      string     `json:"author,omitempty"`
	PubDate     *time.Time `json:"pub_date,omitempty"`
}

// Validate checks the config against the source type.
func (c SourceConfig) Validate(t SourceType) error {
	switch t {
	case SourceTypeRSS:
		if c.Web != nil || c.File != nil {
			return &ConfigurationError{Field: "config", Reason: "RSS source carries non-RSS config"}
		}
		if c.RSS != nil && c.RSS.MaxItems < 0 {
			return &ConfigurationError{Field: "config.rss.max_items", Reason: "must be >= 0"}
		}
	case SourceTypeWeb:
		if c.RSS != nil || c.File != nil {
			return &ConfigurationError{Field: "config", Reason: "WEB source carries non-WEB config"}
		}
		if c.Web == nil || len(c.Web.Selectors) == 0 {
			return &ConfigurationError{Field: "config.web.selectors", Reason: "at least one selector pair is required"}
		}
		for i, pair := range c.Web.Selectors {
			if strings.TrimSpace(pair.Title) == "" || strings.TrimSpace(pair.Content) == "" {
				return &ConfigurationError{
					Field:  fmt.Sprintf("config.web.selectors[%d]", i),
					Reason: "title and content selectors are required",
				}
			}
		}
	case SourceTypeFile:
		if c.RSS != nil || c.Web != nil {
			return &ConfigurationError{Field: "config", Reason: "FILE source carries non-FILE config"}
		}
		if c.File == nil {
			return &ConfigurationError{Field: "config.file", Reason: "file config is required"}
		}
	default:
		return &ConfigurationError{Field: "source_type", Reason: "unknown source type " + string(t)}
	}
	return nil
}

// Validate checks the fields required before a source is accepted.
func (s Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ConfigurationError{Field: "name", Reason: "is required"}
	}
	if !s.Type.Valid() {
		return &ConfigurationError{Field: "source_type", Reason: "unknown source type " + string(s.Type)}
	}
	if !s.Interval.Valid() {
		return &ConfigurationError{Field: "interval", Reason: "unknown interval " + string(s.Interval)}
	}
	if s.Type != SourceTypeFile {
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigurationError{Field: "url", Reason: "must be an absolute http(s) URL"}
		}
	}
	return s.Config.Validate(s.Type)
}

type taggedConfig struct {
	Type SourceType  `json:"type"`
	RSS  *RSSConfig  `json:"rss,omitempty"`
	Web  *WebConfig  `json:"web,omitempty"`
	File *FileConfig `json:"file,omitempty"`
}

// EncodeConfig serializes the config as tagged JSON for storage.
func EncodeConfig(t SourceType, c SourceConfig) ([]byte, error) {
	data, err := json.Marshal(taggedConfig{Type: t, RSS: c.RSS, Web: c.Web, File: c.File})
	if err != nil {
		return nil, fmt.Errorf("encode source config: %w", err)
	}
	return data, nil
}

// DecodeConfig parses tagged JSON written by EncodeConfig.
func DecodeConfig(data []byte) (SourceConfig, error) {
	if len(data) == 0 {
		return SourceConfig{}, nil
	}
	var tagged taggedConfig
	if err := json.Unmarshal(data, &tagged); err != nil {
		return SourceConfig{}, fmt.Errorf("decode source config: %w", err)
	}
	return SourceConfig{RSS: tagged.RSS, Web: tagged.Web, File: tagged.File}, nil
}
