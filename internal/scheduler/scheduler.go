package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/metrics"
	"github.com/JakeFAU/sourcesync/internal/progress"
)

var (
	// ErrAtCapacity is returned when MaxConcurrent workers are already running.
	ErrAtCapacity = errors.New("scheduler at worker capacity")
	// ErrStopTimeout is returned when workers outlive the stop timeout.
	ErrStopTimeout = errors.New("scheduler stop timed out")
)

// Ingester persists collected items and returns the newly created documents.
type Ingester interface {
	Ingest(ctx context.Context, session ingest.Session, source ingest.Source, items []ingest.Item) ([]ingest.Document, error)
}

// Fanout hands new documents to downstream collaborators without blocking.
type Fanout interface {
	Dispatch(source ingest.Source, docs []ingest.Document)
}

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Store     ingest.Store
	Collector ingest.Collector
	Pipeline  Ingester
	Fanout    Fanout
	Clock     ingest.Clock
	Logger    *zap.Logger
}

// ActiveWorker describes one in-flight collection.
type ActiveWorker struct {
	SourceID  string         `json:"source_id"`
	StartedAt time.Time      `json:"started_at"`
	Trigger   ingest.Trigger `json:"trigger"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running bool           `json:"running"`
	Active  []ActiveWorker `json:"active"`
}

// generation is the state of one Start/Stop cycle.
type generation struct {
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	loopDone  chan struct{}
	workerCtx context.Context
}

type slot struct {
	handle *ingest.WorkerHandle
	gen    *generation
}

// Scheduler dispatches collection workers for due sources.
type Scheduler struct {
	store      ingest.Store
	collector  ingest.Collector
	pipeline   Ingester
	fanout     Fanout
	clock      ingest.Clock
	logger     *zap.Logger
	emitter    progress.Emitter
	onComplete func(Result)
	cfg        Config
	sem        *semaphore.Weighted

	mu      sync.Mutex
	running bool
	gen     *generation
	handles map[string]slot
}

// New validates deps and builds a stopped Scheduler.
func New(deps Deps, cfg Config, opts ...Option) (*Scheduler, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("scheduler: store is required")
	case deps.Collector == nil:
		return nil, errors.New("scheduler: collector is required")
	case deps.Pipeline == nil:
		return nil, errors.New("scheduler: pipeline is required")
	case deps.Fanout == nil:
		return nil, errors.New("scheduler: fanout is required")
	case deps.Clock == nil:
		return nil, errors.New("scheduler: clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	s := &Scheduler{
		store:     deps.Store,
		collector: deps.Collector,
		pipeline:  deps.Pipeline,
		fanout:    deps.Fanout,
		clock:     deps.Clock,
		logger:    logger.Named("scheduler"),
		emitter:   progress.NopEmitter{},
		cfg:       cfg,
		handles:   make(map[string]slot),
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the control loop. The first evaluation runs immediately.
// Calling Start on a running scheduler is a no-op. The loop and its workers
// outlive ctx cancellation; use Stop to end them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	base := context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(base)
	gen := &generation{
		cancel:    cancel,
		loopDone:  make(chan struct{}),
		workerCtx: base,
	}
	s.gen = gen
	s.running = true
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Int64("max_concurrent", s.cfg.MaxConcurrent),
	)
	go s.loop(loopCtx, gen)
}

// Stop halts dispatch at once, lets the loop finish its current tick and
// waits for in-flight workers up to StopTimeout or ctx. Workers still
// running afterwards are abandoned; they finish on their own and their
// completion stays idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	gen := s.gen
	s.gen = nil
	s.mu.Unlock()

	gen.cancel()
	done := make(chan struct{})
	go func() {
		<-gen.loopDone
		gen.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-timer.C:
		n := s.countGeneration(gen)
		s.logger.Warn("scheduler stop timed out", zap.Int("abandoned_workers", n))
		return fmt.Errorf("%w: %d workers abandoned", ErrStopTimeout, n)
	case <-ctx.Done():
		n := s.countGeneration(gen)
		s.logger.Warn("scheduler stop interrupted", zap.Int("abandoned_workers", n), zap.Error(ctx.Err()))
		return fmt.Errorf("%w: %d workers abandoned: %w", ErrStopTimeout, n, ctx.Err())
	}
}

func (s *Scheduler) countGeneration(gen *generation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.handles {
		if sl.gen == gen {
			n++
		}
	}
	return n
}

// Running reports whether the control loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetStatus returns the running flag and live workers ordered by source ID.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{Running: s.running, Active: make([]ActiveWorker, 0, len(s.handles))}
	for _, sl := range s.handles {
		status.Active = append(status.Active, ActiveWorker{
			SourceID:  sl.handle.SourceID,
			StartedAt: sl.handle.StartedAt,
			Trigger:   sl.handle.Trigger,
		})
	}
	sort.Slice(status.Active, func(i, j int) bool {
		return status.Active[i].SourceID < status.Active[j].SourceID
	})
	return status
}

// TriggerNow starts an out-of-band collection for sourceID. The source is
// read from storage so pause and activity flags are never stale. The
// returned handle's Done channel closes when the worker has finished.
func (s *Scheduler) TriggerNow(ctx context.Context, sourceID string) (*ingest.WorkerHandle, error) {
	if !s.Running() {
		return nil, ingest.ErrSchedulerStopped
	}
	source, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		if errors.Is(err, ingest.ErrSourceNotFound) {
			return nil, fmt.Errorf("trigger %s: %w", sourceID, ingest.ErrSourceNotFound)
		}
		return nil, fmt.Errorf("trigger %s: load source: %w", sourceID, err)
	}
	switch {
	case source.IsPaused:
		return nil, fmt.Errorf("trigger %s: %w", sourceID, ingest.ErrSourcePaused)
	case !source.IsActive:
		return nil, fmt.Errorf("trigger %s: %w", sourceID, ingest.ErrSourceInactive)
	}
	h, err := s.register(nil, source, ingest.TriggerManual)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", sourceID, err)
	}
	return h, nil
}

// Tick evaluates due sources once, outside the ticker, and returns how many
// workers were started.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	if gen == nil {
		return 0, ingest.ErrSchedulerStopped
	}
	return s.evaluate(ctx, gen)
}

// Forget drops bookkeeping for a deleted source. A worker still running for
// it completes without touching the handle map.
func (s *Scheduler) Forget(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[sourceID]; ok {
		delete(s.handles, sourceID)
		s.logger.Info("forgot source", zap.String("source_id", sourceID))
	}
}

func (s *Scheduler) loop(ctx context.Context, gen *generation) {
	defer close(gen.loopDone)
	if s.cfg.DisableTicker {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.runTick(ctx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx, gen)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, gen *generation) {
	n, err := s.evaluate(ctx, gen)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, ingest.ErrSchedulerStopped) {
			s.logger.Error("evaluate due sources", zap.Error(err))
		}
		return
	}
	if n > 0 {
		s.logger.Debug("dispatched workers", zap.Int("count", n))
	}
}

// evaluate dispatches every due source that has no live worker.
func (s *Scheduler) evaluate(ctx context.Context, gen *generation) (int, error) {
	now := s.clock.Now()
	due, err := s.store.ListDueSources(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due sources: %w", err)
	}
	dispatched := 0
	for _, source := range due {
		if !source.Due(now) {
			continue
		}
		_, err := s.register(gen, source, ingest.TriggerTick)
		switch {
		case err == nil:
			dispatched++
		case errors.Is(err, ingest.ErrAlreadyRunning):
			metrics.ObserveDispatchSkipped("already_running")
		case errors.Is(err, ErrAtCapacity):
			metrics.ObserveDispatchSkipped("capacity")
			s.logger.Debug("worker capacity reached, source stays due", zap.String("source_id", source.ID))
		default:
			return dispatched, err
		}
	}
	return dispatched, nil
}

// register records a handle for source and starts its worker. A nil
// expected generation accepts whichever generation is current.
func (s *Scheduler) register(expected *generation, source ingest.Source, trigger ingest.Trigger) (*ingest.WorkerHandle, error) {
	s.mu.Lock()
	gen := s.gen
	if !s.running || gen == nil || (expected != nil && expected != gen) {
		s.mu.Unlock()
		return nil, ingest.ErrSchedulerStopped
	}
	if _, live := s.handles[source.ID]; live {
		s.mu.Unlock()
		return nil, ingest.ErrAlreadyRunning
	}
	if s.sem != nil && !s.sem.TryAcquire(1) {
		s.mu.Unlock()
		return nil, ErrAtCapacity
	}
	h := ingest.NewWorkerHandle(source.ID, s.clock.Now(), trigger)
	s.handles[source.ID] = slot{handle: h, gen: gen}
	gen.wg.Add(1)
	s.mu.Unlock()

	go s.work(gen, h, source)
	return h, nil
}

// release removes h if it is still the registered handle for its source.
func (s *Scheduler) release(h *ingest.WorkerHandle) {
	s.mu.Lock()
	if sl, ok := s.handles[h.SourceID]; ok && sl.handle == h {
		delete(s.handles, h.SourceID)
	}
	s.mu.Unlock()
	if s.sem != nil {
		s.sem.Release(1)
	}
}
