// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// Store keeps sources and documents in process memory.
type Store struct {
	mu        sync.RWMutex
	sources   map[string]ingest.Source
	documents map[string]ingest.Document
	byLink    map[string]string
	order     []string
	sessions  int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sources:   make(map[string]ingest.Source),
		documents: make(map[string]ingest.Document),
		byLink:    make(map[string]string),
	}
}

// OpenSession returns a session bound to this store.
func (s *Store) OpenSession(_ context.Context) (ingest.Session, error) {
	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()
	return &session{store: s}, nil
}

// CreateSource stores a new source.
func (s *Store) CreateSource(_ context.Context, source ingest.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if source.ID == "" {
		return errors.New("source id is required")
	}
	if _, exists := s.sources[source.ID]; exists {
		return fmt.Errorf("source %s already exists", source.ID)
	}
	s.sources[source.ID] = cloneSource(source)
	return nil
}

// GetSource fetches a source by ID.
func (s *Store) GetSource(_ context.Context, id string) (ingest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSourceLocked(id)
}

// ListSources returns all sources ordered by ID.
func (s *Store) ListSources(_ context.Context) ([]ingest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, cloneSource(src))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListDueSources returns active, unpaused sources whose next_sync is at or before now.
func (s *Store) ListDueSources(_ context.Context, now time.Time) ([]ingest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.Source
	for _, src := range s.sources {
		if src.Due(now) {
			out = append(out, cloneSource(src))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextSync.Before(out[j].NextSync) })
	return out, nil
}

// SetPaused toggles the paused flag.
func (s *Store) SetPaused(_ context.Context, id string, paused bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return ingest.ErrSourceNotFound
	}
	src.IsPaused = paused
	src.UpdatedAt = at
	s.sources[id] = src
	return nil
}

// ResetErrors clears sync_errors and last_error.
func (s *Store) ResetErrors(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return ingest.ErrSourceNotFound
	}
	src.SyncErrors = 0
	src.LastError = nil
	src.UpdatedAt = at
	s.sources[id] = src
	return nil
}

// DeleteSource removes a source; its documents are kept.
func (s *Store) DeleteSource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return ingest.ErrSourceNotFound
	}
	delete(s.sources, id)
	return nil
}

// Documents returns all documents in creation order.
func (s *Store) Documents() []ingest.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.documents[id])
	}
	return out
}

// SessionsOpened reports how many sessions have been handed out.
func (s *Store) SessionsOpened() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions
}

// Close implements ingest.Store; it performs no action.
func (s *Store) Close(context.Context) error {
	return nil
}

func (s *Store) getSourceLocked(id string) (ingest.Source, error) {
	src, ok := s.sources[id]
	if !ok {
		return ingest.Source{}, ingest.ErrSourceNotFound
	}
	return cloneSource(src), nil
}

type session struct {
	store  *Store
	closed bool
}

func (ss *session) GetSource(_ context.Context, id string) (ingest.Source, error) {
	if ss.closed {
		return ingest.Source{}, errors.New("session closed")
	}
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()
	return ss.store.getSourceLocked(id)
}

func (ss *session) DocumentExists(_ context.Context, link string) (bool, error) {
	if ss.closed {
		return false, errors.New("session closed")
	}
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()
	_, ok := ss.store.byLink[link]
	return ok, nil
}

func (ss *session) CreateDocument(_ context.Context, doc ingest.Document) error {
	if ss.closed {
		return errors.New("session closed")
	}
	if doc.ID == "" || doc.Link == "" {
		return errors.New("document id and link are required")
	}
	s := ss.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byLink[doc.Link]; ok {
		return ingest.ErrDuplicateLink
	}
	doc.Tags = append([]string(nil), doc.Tags...)
	s.documents[doc.ID] = doc
	s.byLink[doc.Link] = doc.ID
	s.order = append(s.order, doc.ID)
	return nil
}

func (ss *session) RecordSync(_ context.Context, sourceID string, outcome ingest.SyncOutcome) error {
	if ss.closed {
		return errors.New("session closed")
	}
	s := ss.store
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok {
		return ingest.ErrSourceNotFound
	}
	s.sources[sourceID] = src.Apply(outcome)
	return nil
}

func (ss *session) Close(context.Context) error {
	ss.closed = true
	return nil
}

func cloneSource(src ingest.Source) ingest.Source {
	src.Tags = append([]string(nil), src.Tags...)
	if src.LastSync != nil {
		t := *src.LastSync
		src.LastSync = &t
	}
	if src.LastError != nil {
		e := *src.LastError
		src.LastError = &e
	}
	return src
}
