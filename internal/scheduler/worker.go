package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/lifecycle"
	"github.com/JakeFAU/sourcesync/internal/metrics"
	"github.com/JakeFAU/sourcesync/internal/progress"
)

// Result summarizes one finished worker.
type Result struct {
	SourceID string
	Trigger  ingest.Trigger
	// Handle is the worker handle returned by TriggerNow or created by a tick.
	Handle *ingest.WorkerHandle
	// Documents is the number of newly persisted documents.
	Documents int
	// Discarded is set when the source was paused, deactivated or deleted
	// before collection began.
	Discarded bool
	// State is where the source ended up. It is empty when the source was
	// deleted or its outcome could not be recorded.
	State    lifecycle.State
	Err      error
	Duration time.Duration
}

type run struct {
	id      [16]byte
	handle  *ingest.WorkerHandle
	source  ingest.Source
	started time.Time
}

func (s *Scheduler) work(gen *generation, h *ingest.WorkerHandle, source ingest.Source) {
	defer gen.wg.Done()
	metrics.IncActiveWorkers()

	r := run{id: progress.NewRunID(), handle: h, source: source, started: time.Now()}
	res := s.collect(gen.workerCtx, r)
	res.Handle = h
	res.Duration = time.Since(r.started)

	s.release(h)
	h.MarkDone()
	metrics.DecActiveWorkers()
	if s.onComplete != nil {
		s.onComplete(res)
	}
}

func (s *Scheduler) collect(ctx context.Context, r run) Result {
	res := Result{SourceID: r.source.ID, Trigger: r.handle.Trigger}
	logger := s.logger.With(
		zap.String("source_id", r.source.ID),
		zap.String("trigger", string(r.handle.Trigger)),
	)

	session, err := s.store.OpenSession(ctx)
	if err != nil {
		res.Err = fmt.Errorf("open session: %w", err)
		logger.Error("open storage session", zap.Error(err))
		s.emit(r, progress.StageSyncError, 0, res.Err.Error())
		return res
	}
	defer func() {
		if cerr := session.Close(ctx); cerr != nil {
			logger.Warn("close storage session", zap.Error(cerr))
		}
	}()

	source, err := session.GetSource(ctx, r.source.ID)
	if err != nil {
		if errors.Is(err, ingest.ErrSourceNotFound) {
			logger.Info("source deleted before collection, discarding")
			metrics.ObserveDispatchSkipped("deleted")
			res.Discarded = true
			return res
		}
		res.Err = fmt.Errorf("reload source: %w", err)
		logger.Error("reload source", zap.Error(err))
		s.emit(r, progress.StageSyncError, 0, res.Err.Error())
		return res
	}
	switch {
	case source.IsPaused:
		logger.Info("source paused before collection, discarding")
		metrics.ObserveDispatchSkipped("paused")
		res.Discarded = true
		res.State = lifecycle.StateOf(source, s.clock.Now(), false)
		return res
	case !source.IsActive:
		logger.Info("source inactive before collection, discarding")
		metrics.ObserveDispatchSkipped("inactive")
		res.Discarded = true
		res.State = lifecycle.StateOf(source, s.clock.Now(), false)
		return res
	}
	r.source = source
	s.emit(r, progress.StageSyncStart, 0, "")

	collectCtx, cancel := context.WithTimeout(ctx, s.cfg.CollectTimeout)
	items, err := s.collector.Collect(collectCtx, source)
	cancel()
	if err != nil {
		return s.fail(ctx, session, r, logger, err)
	}

	docs, err := s.pipeline.Ingest(ctx, session, source, items)
	if err != nil {
		logger.Warn("ingest interrupted", zap.Int("persisted", len(docs)), zap.Error(err))
	}
	s.fanout.Dispatch(source, docs)

	outcome, err := lifecycle.SuccessOutcome(source.Interval, s.clock.Now(), len(docs))
	if err != nil {
		res.Err = err
		logger.Error("build sync outcome", zap.Error(err))
		s.emit(r, progress.StageSyncError, len(docs), err.Error())
		return res
	}
	if err := session.RecordSync(ctx, source.ID, outcome); err != nil {
		res.Err = fmt.Errorf("record sync: %w", err)
		s.logRecordFailure(logger, err)
		s.emit(r, progress.StageSyncError, len(docs), res.Err.Error())
		return res
	}

	res.Documents = len(docs)
	res.State = s.settle(logger, outcome)
	metrics.ObserveSync(string(source.Type), "success", time.Since(r.started))
	logger.Info("sync complete",
		zap.Int("items", len(items)),
		zap.Int("documents", len(docs)),
		zap.Time("next_sync", outcome.NextSync),
	)
	s.emit(r, progress.StageSyncDone, len(docs), "")
	return res
}

func (s *Scheduler) fail(ctx context.Context, session ingest.Session, r run, logger *zap.Logger, cause error) Result {
	res := Result{SourceID: r.source.ID, Trigger: r.handle.Trigger, Err: cause}
	metrics.ObserveSync(string(r.source.Type), "error", time.Since(r.started))
	logger.Warn("collection failed", zap.Error(cause))

	outcome, err := lifecycle.FailureOutcome(r.source.Interval, s.clock.Now(), cause)
	if err != nil {
		logger.Error("build failure outcome", zap.Error(err))
		s.emit(r, progress.StageSyncError, 0, cause.Error())
		return res
	}
	if err := session.RecordSync(ctx, r.source.ID, outcome); err != nil {
		s.logRecordFailure(logger, err)
	} else {
		res.State = s.settle(logger, outcome)
	}
	s.emit(r, progress.StageSyncError, 0, outcome.Error)
	return res
}

// settle returns the state a recorded outcome moves the source into.
func (s *Scheduler) settle(logger *zap.Logger, outcome ingest.SyncOutcome) lifecycle.State {
	next := lifecycle.OutcomeState(outcome)
	if err := lifecycle.ValidateTransition(lifecycle.StateCollecting, next); err != nil {
		logger.Error("invalid state transition", zap.Error(err))
		return ""
	}
	return next
}

func (s *Scheduler) logRecordFailure(logger *zap.Logger, err error) {
	if errors.Is(err, ingest.ErrSourceNotFound) {
		logger.Info("source deleted during collection, outcome dropped")
		return
	}
	logger.Error("record sync outcome", zap.Error(err))
}

func (s *Scheduler) emit(r run, stage progress.Stage, docs int, note string) {
	evt := progress.Event{
		RunID:      r.id,
		SourceID:   r.source.ID,
		SourceType: string(r.source.Type),
		TS:         time.Now().UTC(),
		Stage:      stage,
		Trigger:    string(r.handle.Trigger),
		Documents:  docs,
		Note:       note,
	}
	if stage.Terminal() {
		evt.Dur = time.Since(r.started)
	}
	s.emitter.Emit(evt)
}
