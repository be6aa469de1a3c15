// Package lifecycle manages source pause/resume, error reset, next-run
// computation, and the per-source state machine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// Manager applies lifecycle operations against a Store.
type Manager struct {
	store  ingest.Store
	idGen  ingest.IDGenerator
	clock  ingest.Clock
	logger *zap.Logger
}

// NewManager constructs a Manager.
func NewManager(store ingest.Store, idGen ingest.IDGenerator, clock ingest.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, idGen: idGen, clock: clock, logger: logger}
}

// Create validates and persists a new source. A zero NextSync makes the
// source due on the next tick.
func (m *Manager) Create(ctx context.Context, source ingest.Source) (ingest.Source, error) {
	source.Name = strings.TrimSpace(source.Name)
	source.URL = strings.TrimSpace(source.URL)
	if err := source.Validate(); err != nil {
		return ingest.Source{}, err
	}
	now := m.clock.Now()
	if source.ID == "" {
		id, err := m.idGen.NewID()
		if err != nil {
			return ingest.Source{}, fmt.Errorf("generate source id: %w", err)
		}
		source.ID = id
	}
	source.IsActive = true
	if source.NextSync.IsZero() {
		source.NextSync = now
	}
	source.SyncErrors = 0
	source.LastError = nil
	source.TotalDocuments = 0
	source.LastDocumentCount = 0
	source.CreatedAt = now
	source.UpdatedAt = now
	if err := m.store.CreateSource(ctx, source); err != nil {
		return ingest.Source{}, fmt.Errorf("create source: %w", err)
	}
	m.logger.Info("source created",
		zap.String("source_id", source.ID),
		zap.String("source_type", string(source.Type)),
		zap.String("interval", string(source.Interval)),
	)
	return source, nil
}

// EnsureByURL creates the source unless one with the same URL (or, for FILE
// sources, the same name) already exists.
func (m *Manager) EnsureByURL(ctx context.Context, source ingest.Source) (ingest.Source, bool, error) {
	existing, err := m.store.ListSources(ctx)
	if err != nil {
		return ingest.Source{}, false, fmt.Errorf("list sources: %w", err)
	}
	for _, s := range existing {
		if s.Type != source.Type {
			continue
		}
		if source.Type == ingest.SourceTypeFile && s.Name == strings.TrimSpace(source.Name) {
			return s, false, nil
		}
		if source.Type != ingest.SourceTypeFile && s.URL == strings.TrimSpace(source.URL) {
			return s, false, nil
		}
	}
	created, err := m.Create(ctx, source)
	if err != nil {
		return ingest.Source{}, false, err
	}
	return created, true, nil
}

// Pause excludes the source from dispatch until Resume.
func (m *Manager) Pause(ctx context.Context, sourceID string) error {
	if err := m.store.SetPaused(ctx, sourceID, true, m.clock.Now()); err != nil {
		return fmt.Errorf("pause source: %w", err)
	}
	m.logger.Info("source paused", zap.String("source_id", sourceID))
	return nil
}

// Resume makes the source eligible for dispatch again; next_sync is untouched.
func (m *Manager) Resume(ctx context.Context, sourceID string) error {
	if err := m.store.SetPaused(ctx, sourceID, false, m.clock.Now()); err != nil {
		return fmt.Errorf("resume source: %w", err)
	}
	m.logger.Info("source resumed", zap.String("source_id", sourceID))
	return nil
}

// ResetErrors zeroes sync_errors and last_error without touching the schedule.
func (m *Manager) ResetErrors(ctx context.Context, sourceID string) error {
	if err := m.store.ResetErrors(ctx, sourceID, m.clock.Now()); err != nil {
		return fmt.Errorf("reset source errors: %w", err)
	}
	m.logger.Info("source errors reset", zap.String("source_id", sourceID))
	return nil
}

// Delete removes the source. Documents it produced are kept, and a worker
// already collecting it drops its outcome.
func (m *Manager) Delete(ctx context.Context, sourceID string) error {
	if err := m.store.DeleteSource(ctx, sourceID); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	m.logger.Info("source deleted", zap.String("source_id", sourceID))
	return nil
}

// ComputeNextSync returns the next collection time for interval.
func (m *Manager) ComputeNextSync(interval ingest.Interval, now time.Time) (time.Time, error) {
	return ingest.ComputeNextSync(interval, now)
}

// SuccessOutcome builds the outcome recorded after a successful collection
// that persisted count new documents.
func SuccessOutcome(interval ingest.Interval, now time.Time, count int) (ingest.SyncOutcome, error) {
	next, err := ingest.ComputeNextSync(interval, now)
	if err != nil {
		return ingest.SyncOutcome{}, err
	}
	if count < 0 {
		count = 0
	}
	return ingest.SyncOutcome{
		Success:       true,
		At:            now,
		NextSync:      next,
		DocumentCount: count,
	}, nil
}

// FailureOutcome builds the outcome recorded after a failed collection. The
// schedule still advances by the fixed interval.
func FailureOutcome(interval ingest.Interval, now time.Time, cause error) (ingest.SyncOutcome, error) {
	next, err := ingest.ComputeNextSync(interval, now)
	if err != nil {
		return ingest.SyncOutcome{}, err
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
		var collErr *ingest.CollectionError
		if errors.As(cause, &collErr) && collErr.Err != nil {
			msg = collErr.Err.Error()
		}
	}
	return ingest.SyncOutcome{
		Success:  false,
		At:       now,
		NextSync: next,
		Error:    msg,
	}, nil
}
