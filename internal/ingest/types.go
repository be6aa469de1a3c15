package ingest

import (
	"time"
)

// SourceType selects the collector strategy for a Source.
type SourceType string

// Supported source types.
const (
	SourceTypeRSS  SourceType = "RSS"
	SourceTypeWeb  SourceType = "WEB"
	SourceTypeFile SourceType = "FILE"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeRSS, SourceTypeWeb, SourceTypeFile:
		return true
	default:
		return false
	}
}

// Interval is the fixed re-collection cadence of a Source.
type Interval string

// Supported intervals.
const (
	IntervalSixHour    Interval = "SIX_HOUR"
	IntervalTwelveHour Interval = "TWELVE_HOUR"
	IntervalOneDay     Interval = "ONE_DAY"
	IntervalThreeDay   Interval = "THREE_DAY"
	IntervalWeekly     Interval = "WEEKLY"
)

// Source is a configured origin of documents.
type Source struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	URL               string       `json:"url"`
	Type              SourceType   `json:"source_type"`
	Interval          Interval     `json:"interval"`
	IsPaused          bool         `json:"is_paused"`
	IsActive          bool         `json:"is_active"`
	LastSync          *time.Time   `json:"last_sync,omitempty"`
	NextSync          time.Time    `json:"next_sync"`
	TotalDocuments    int64        `json:"total_documents"`
	LastDocumentCount int          `json:"last_document_count"`
	SyncErrors        int          `json:"sync_errors"`
	LastError         *string      `json:"last_error,omitempty"`
	Config            SourceConfig `json:"config"`
	Tags              []string     `json:"tags,omitempty"`
	Description       string       `json:"description,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Due reports whether the source should be dispatched at now.
func (s Source) Due(now time.Time) bool {
	return s.IsActive && !s.IsPaused && !s.NextSync.After(now)
}

// Document is a persisted, deduplicated content item. Link is globally unique.
type Document struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags,omitempty"`
	Author      string     `json:"author,omitempty"`
	PubDate     *time.Time `json:"pub_date,omitempty"`
	SourceID    string     `json:"source_id"`
	CrawledAt   time.Time  `json:"crawled_at"`
}

// Item is a normalized entry produced by a collector, not yet persisted.
type Item struct {
	Title       string
	Link        string
	Description string
	Tags        []string
	Author      string
	PubDate     *time.Time
}

// SyncOutcome is the result of one collection, applied atomically to a Source.
type SyncOutcome struct {
	Success       bool
	At            time.Time
	NextSync      time.Time
	DocumentCount int
	Error         string
}

// Trigger records why a worker was started.
type Trigger string

// Worker triggers.
const (
	TriggerTick   Trigger = "tick"
	TriggerManual Trigger = "manual"
)

// WorkerHandle is the runtime record of an in-flight collection for one source.
// It is never persisted.
type WorkerHandle struct {
	SourceID  string    `json:"source_id"`
	StartedAt time.Time `json:"started_at"`
	Trigger   Trigger   `json:"trigger"`

	done chan struct{}
}

// NewWorkerHandle returns a handle with an open completion channel.
func NewWorkerHandle(sourceID string, startedAt time.Time, trigger Trigger) *WorkerHandle {
	return &WorkerHandle{
		SourceID:  sourceID,
		StartedAt: startedAt,
		Trigger:   trigger,
		done:      make(chan struct{}),
	}
}

// Done is closed once the worker's completion handler has run.
func (h *WorkerHandle) Done() <-chan struct{} {
	return h.done
}

// MarkDone closes the completion channel. It must be called exactly once.
func (h *WorkerHandle) MarkDone() {
	close(h.done)
}

// Apply folds an outcome into a source the way every store must: success
// resets errors and adds to the total, failure only bumps the error count.
func (s Source) Apply(outcome SyncOutcome) Source {
	s.NextSync = outcome.NextSync
	s.UpdatedAt = outcome.At
	if outcome.Success {
		at := outcome.At
		s.LastSync = &at
		s.LastDocumentCount = outcome.DocumentCount
		s.TotalDocuments += int64(outcome.DocumentCount)
		s.SyncErrors = 0
		s.LastError = nil
		return s
	}
	msg := outcome.Error
	s.SyncErrors++
	s.LastError = &msg
	return s
}
