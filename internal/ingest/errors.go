package ingest

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by stores and the scheduler.
var (
	ErrSourceNotFound   = errors.New("source not found")
	ErrDuplicateLink    = errors.New("document link already exists")
	ErrAlreadyRunning   = errors.New("collection already in flight for source")
	ErrSchedulerStopped = errors.New("scheduler is not running")
	ErrSourcePaused     = errors.New("source is paused")
	ErrSourceInactive   = errors.New("source is inactive")
)

// CollectionError reports that a collector failed to fetch or parse a source.
// It is recorded on the Source and never stops the scheduler.
type CollectionError struct {
	SourceID string
	Err      error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect source %s: %v", e.SourceID, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// PersistenceError reports that a single item could not be saved.
type PersistenceError struct {
	Link string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist item %q: %v", e.Link, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FanoutError reports that the indexer or notifier failed for a batch.
type FanoutError struct {
	Target     string
	SourceID   string
	SourceType SourceType
	Err        error
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("fanout %s for source %s: %v", e.Target, e.SourceID, e.Err)
}

func (e *FanoutError) Unwrap() error { return e.Err }

// ConfigurationError rejects an invalid source definition at creation time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
