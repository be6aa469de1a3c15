// Package fanout hands newly persisted documents to the indexer and the
// notifier without blocking the worker that produced them.
package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/metrics"
)

const (
	targetIndex  = "index"
	targetNotify = "notify"

	defaultIndexTimeout  = 30 * time.Second
	defaultNotifyTimeout = 10 * time.Second
)

// Config tunes fan-out timeouts.
type Config struct {
	IndexTimeout  time.Duration
	NotifyTimeout time.Duration
	// BaseContext parents every fan-out call; context.Background when nil.
	BaseContext context.Context
}

// ErrorHook observes fan-out failures after they are logged.
type ErrorHook func(err *ingest.FanoutError)

// Dispatcher runs Indexer.Store and Notifier.Notify concurrently per batch.
type Dispatcher struct {
	indexer  ingest.Indexer
	notifier ingest.Notifier
	cfg      Config
	logger   *zap.Logger
	onError  ErrorHook

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New builds a Dispatcher. Either target may be nil to disable it.
func New(indexer ingest.Indexer, notifier ingest.Notifier, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = defaultIndexTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		indexer:  indexer,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("fanout"),
	}
}

// OnError registers a hook invoked for every fan-out failure.
func (d *Dispatcher) OnError(hook ErrorHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = hook
}

// Dispatch schedules one index call and one notify call for docs and returns
// immediately. Empty batches and calls after Close are ignored.
func (d *Dispatcher) Dispatch(source ingest.Source, docs []ingest.Document) {
	if len(docs) == 0 {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		metrics.ObserveDispatchSkipped("fanout_closed")
		d.logger.Warn("fanout closed, dropping batch",
			zap.String("source_id", source.ID),
			zap.Int("documents", len(docs)),
		)
		return
	}
	d.wg.Add(2)
	d.mu.Unlock()

	batch := append([]ingest.Document(nil), docs...)
	go d.run(targetIndex, source, d.cfg.IndexTimeout, func(ctx context.Context) error {
		if d.indexer == nil {
			return nil
		}
		return d.indexer.Store(ctx, batch)
	})
	go d.run(targetNotify, source, d.cfg.NotifyTimeout, func(ctx context.Context) error {
		if d.notifier == nil {
			return nil
		}
		return d.notifier.Notify(ctx, source, batch)
	})
}

func (d *Dispatcher) run(target string, source ingest.Source, timeout time.Duration, call func(context.Context) error) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(d.cfg.BaseContext, timeout)
	defer cancel()

	if err := invoke(ctx, call); err != nil {
		ferr := &ingest.FanoutError{Target: target, SourceID: source.ID, SourceType: source.Type, Err: err}
		metrics.ObserveFanout(target, "error")
		d.logger.Error("fanout failed",
			zap.String("target", target),
			zap.String("source_id", source.ID),
			zap.Error(ferr),
		)
		d.mu.Lock()
		hook := d.onError
		d.mu.Unlock()
		if hook != nil {
			hook(ferr)
		}
		return
	}
	metrics.ObserveFanout(target, "success")
}

// invoke runs call and reports a panic as an error.
func invoke(ctx context.Context, call func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return call(ctx)
}

// Close rejects new batches and waits for in-flight calls or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for fanout: %w", ctx.Err())
	}
}
