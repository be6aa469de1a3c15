package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/sourcesync/internal/progress"
)

const defaultHistoryPerSource = 20

// HistorySink keeps the most recent finished runs per source in memory.
type HistorySink struct {
	mu    sync.RWMutex
	limit int
	bySrc map[string][]progress.Event
}

// NewHistorySink keeps up to limit finished runs per source.
func NewHistorySink(limit int) *HistorySink {
	if limit <= 0 {
		limit = defaultHistoryPerSource
	}
	return &HistorySink{
		limit: limit,
		bySrc: make(map[string][]progress.Event),
	}
}

// Consume records terminal events, newest last.
func (s *HistorySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if !evt.Stage.Terminal() {
			continue
		}
		runs := append(s.bySrc[evt.SourceID], evt)
		if len(runs) > s.limit {
			runs = append([]progress.Event(nil), runs[len(runs)-s.limit:]...)
		}
		s.bySrc[evt.SourceID] = runs
	}
	return nil
}

// Recent returns the finished runs of sourceID, newest first.
func (s *HistorySink) Recent(sourceID string) []progress.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.bySrc[sourceID]
	out := make([]progress.Event, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
	}
	return out
}

// Close implements progress.Sink; it performs no action.
func (s *HistorySink) Close(context.Context) error {
	return nil
}
