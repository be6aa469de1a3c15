// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/api"
	"github.com/JakeFAU/sourcesync/internal/clock/system"
	"github.com/JakeFAU/sourcesync/internal/collector"
	"github.com/JakeFAU/sourcesync/internal/config"
	"github.com/JakeFAU/sourcesync/internal/fanout"
	collyfetcher "github.com/JakeFAU/sourcesync/internal/fetcher/colly"
	"github.com/JakeFAU/sourcesync/internal/hash/sha256"
	"github.com/JakeFAU/sourcesync/internal/id/uuid"
	blobindex "github.com/JakeFAU/sourcesync/internal/index/blob"
	memoryindex "github.com/JakeFAU/sourcesync/internal/index/memory"
	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/lifecycle"
	"github.com/JakeFAU/sourcesync/internal/logging"
	"github.com/JakeFAU/sourcesync/internal/notify"
	"github.com/JakeFAU/sourcesync/internal/pipeline"
	"github.com/JakeFAU/sourcesync/internal/policy/ratelimit"
	"github.com/JakeFAU/sourcesync/internal/progress"
	progresssinks "github.com/JakeFAU/sourcesync/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/sourcesync/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sourcesync/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/sourcesync/internal/publisher/redis"
	"github.com/JakeFAU/sourcesync/internal/scheduler"
	gcsstorage "github.com/JakeFAU/sourcesync/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sourcesync/internal/storage/local"
	memorystorage "github.com/JakeFAU/sourcesync/internal/storage/memory"
	mongostore "github.com/JakeFAU/sourcesync/internal/storage/mongo"
	pgstore "github.com/JakeFAU/sourcesync/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	clock     ingest.Clock
	store     ingest.Store
	lifecycle *lifecycle.Manager
	scheduler *scheduler.Scheduler
	fanout    *fanout.Dispatcher
	hub       *progress.Hub
	history   *progresssinks.HistorySink
	apiServer *api.Server

	gcsClient *storage.Client
	closers   []func() error

	waitMu  sync.Mutex
	waiters map[string][]chan scheduler.Result
}

// SyncReport is what App.Sync observed for one manual collection.
type SyncReport struct {
	Result scheduler.Result
	// Source is the stored source after the run, or as it was before the
	// run when nothing was recorded.
	Source ingest.Source
}

// Build creates the application's dependencies. Nothing is started until Run
// or Sync is called.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{
		cfg:     cfg,
		logger:  logger,
		clock:   system.New(),
		waiters: make(map[string][]chan scheduler.Result),
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_backend", cfg.Database.Backend),
		zap.String("index_backend", cfg.Index.Backend),
		zap.String("notify_backend", cfg.Notify.Backend),
	)

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	a.store, err = setupStore(ctx, a)
	if err != nil {
		return err
	}
	ids := uuid.New()
	a.lifecycle = lifecycle.NewManager(a.store, ids, a.clock, a.logger)

	indexer, err := setupIndexer(ctx, a)
	if err != nil {
		return err
	}
	notifier, err := setupNotifier(ctx, a)
	if err != nil {
		return err
	}

	hub, err := setupProgress(a)
	if err != nil {
		return err
	}
	a.hub = hub

	a.fanout = fanout.New(indexer, notifier, fanout.Config{
		IndexTimeout:  a.cfg.Fanout.IndexTimeout,
		NotifyTimeout: a.cfg.Fanout.NotifyTimeout,
	}, a.logger)
	a.fanout.OnError(func(ferr *ingest.FanoutError) {
		a.hub.Emit(progress.Event{
			RunID:      progress.NewRunID(),
			SourceID:   ferr.SourceID,
			SourceType: string(ferr.SourceType),
			TS:         a.clock.Now().UTC(),
			Stage:      progress.StageFanoutError,
			Note:       ferr.Error(),
		})
	})

	a.scheduler, err = scheduler.New(scheduler.Deps{
		Store:     a.store,
		Collector: setupCollectors(a),
		Pipeline:  pipeline.New(ids, a.clock, a.logger),
		Fanout:    a.fanout,
		Clock:     a.clock,
		Logger:    a.logger,
	}, scheduler.Config{
		TickInterval:   a.cfg.Scheduler.TickInterval,
		StopTimeout:    a.cfg.Scheduler.StopTimeout,
		CollectTimeout: a.cfg.Scheduler.CollectTimeout,
		MaxConcurrent:  a.cfg.Scheduler.MaxConcurrent,
		DisableTicker:  a.cfg.Scheduler.DisableTicker,
	}, scheduler.WithEmitter(a.hub), scheduler.WithOnComplete(a.completed))
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}

	deps := api.Deps{
		Scheduler: a.scheduler,
		Lifecycle: a.lifecycle,
		Sources:   a.store,
		Clock:     a.clock,
	}
	if a.history != nil {
		deps.History = a.history
	}
	a.apiServer = api.NewServer(deps, api.Config{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
	}, a.logger)
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Lifecycle returns the source lifecycle manager.
func (a *App) Lifecycle() *lifecycle.Manager { return a.lifecycle }

// Store returns the configured source/document store.
func (a *App) Store() ingest.Store { return a.store }

// Run seeds configured sources, starts the scheduler and the HTTP server and
// blocks until ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.seedSources(ctx); err != nil {
		return err
	}
	a.scheduler.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Sync runs one manual collection for sourceID and waits for the worker's
// result.
func (a *App) Sync(ctx context.Context, sourceID string) (SyncReport, error) {
	if err := a.seedSources(ctx); err != nil {
		return SyncReport{}, err
	}
	before, err := a.store.GetSource(ctx, sourceID)
	if err != nil {
		return SyncReport{}, fmt.Errorf("load source: %w", err)
	}
	a.scheduler.Start(ctx)
	defer func() {
		if err := a.scheduler.Stop(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}()

	results := a.await(sourceID)
	defer a.unwait(sourceID, results)
	handle, err := a.scheduler.TriggerNow(ctx, sourceID)
	if err != nil {
		return SyncReport{}, err
	}

	var res scheduler.Result
	for res.Handle != handle {
		select {
		case res = <-results:
		case <-ctx.Done():
			return SyncReport{}, fmt.Errorf("wait for sync: %w", ctx.Err())
		}
	}

	report := SyncReport{Result: res, Source: before}
	if res.State == "" || res.Discarded {
		return report, nil
	}
	after, err := a.store.GetSource(ctx, sourceID)
	if err != nil {
		return report, fmt.Errorf("reload source: %w", err)
	}
	report.Source = after
	return report, nil
}

func (a *App) await(sourceID string) chan scheduler.Result {
	ch := make(chan scheduler.Result, 4)
	a.waitMu.Lock()
	defer a.waitMu.Unlock()
	a.waiters[sourceID] = append(a.waiters[sourceID], ch)
	return ch
}

func (a *App) unwait(sourceID string, ch chan scheduler.Result) {
	a.waitMu.Lock()
	defer a.waitMu.Unlock()
	waiting := a.waiters[sourceID]
	for i, c := range waiting {
		if c == ch {
			waiting = append(waiting[:i], waiting[i+1:]...)
			break
		}
	}
	if len(waiting) == 0 {
		delete(a.waiters, sourceID)
		return
	}
	a.waiters[sourceID] = waiting
}

// completed hands a finished worker's result to any Sync waiting on its
// source. It never blocks the worker.
func (a *App) completed(res scheduler.Result) {
	a.waitMu.Lock()
	defer a.waitMu.Unlock()
	for _, ch := range a.waiters[res.SourceID] {
		select {
		case ch <- res:
		default:
		}
	}
}

// Close stops the scheduler, drains fan-out and progress, and releases
// infrastructure clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.fanout != nil {
		if err := a.fanout.Close(ctx); err != nil {
			a.logger.Warn("fanout close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

func (a *App) seedSources(ctx context.Context) error {
	for _, seed := range a.cfg.Sources {
		source, created, err := a.lifecycle.EnsureByURL(ctx, seed.Source())
		if err != nil {
			return fmt.Errorf("seed source %q: %w", seed.Name, err)
		}
		if created {
			a.logger.Info("seeded source",
				zap.String("source_id", source.ID),
				zap.String("url", source.URL),
				zap.String("source_type", string(source.Type)),
			)
		}
	}
	return nil
}

func setupStore(ctx context.Context, app *App) (ingest.Store, error) {
	cfg := app.cfg.Database
	switch cfg.Backend {
	case config.BackendPostgres:
		app.logger.Info("using postgres store")
		store, err := pgstore.NewStore(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close(ctx)
				return nil, fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		return store, nil
	case config.BackendMongo:
		app.logger.Info("using mongo store", zap.String("database", cfg.Mongo.Database))
		store, err := mongostore.NewStore(ctx, mongostore.Config{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("mongo store init failed: %w", err)
		}
		return store, nil
	default:
		app.logger.Info("using in-memory store")
		return memorystorage.NewStore(), nil
	}
}

func setupBlobStore(ctx context.Context, app *App) (ingest.BlobStore, error) {
	cfg := app.cfg.Blob
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS blob backend", zap.String("bucket", cfg.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: cfg.GCS.Bucket,
			Prefix: cfg.GCS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendLocal:
		app.logger.Info("using local blob backend", zap.String("base_dir", cfg.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func setupIndexer(ctx context.Context, app *App) (ingest.Indexer, error) {
	if app.cfg.Index.Backend != config.BackendBlob {
		app.logger.Info("using in-memory indexer")
		return memoryindex.New(), nil
	}
	blobs, err := setupBlobStore(ctx, app)
	if err != nil {
		return nil, err
	}
	indexer, err := blobindex.New(blobs, app.clock, blobindex.Config{
		Prefix: app.cfg.Index.Prefix,
		Hasher: sha256.New(),
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("blob indexer init failed: %w", err)
	}
	return indexer, nil
}

func setupNotifier(ctx context.Context, app *App) (ingest.Notifier, error) {
	cfg := app.cfg.Notify
	var publisher ingest.Publisher
	switch cfg.Backend {
	case config.BackendPubSub:
		app.logger.Info("using pubsub notifier", zap.String("project_id", cfg.PubSub.ProjectID))
		p, err := gcppublisher.Dial(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.closers = append(app.closers, p.Close)
		publisher = p
	case config.BackendRedis:
		app.logger.Info("using redis stream notifier", zap.String("addr", cfg.Redis.Addr))
		p, err := redispublisher.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redispublisher.Config{MaxLen: cfg.Redis.MaxLen})
		if err != nil {
			return nil, fmt.Errorf("redis publisher init failed: %w", err)
		}
		app.closers = append(app.closers, p.Close)
		publisher = p
	default:
		app.logger.Info("using in-memory notifier")
		publisher = memorypublisher.New()
	}
	notifier, err := notify.NewPublisherNotifier(publisher, notify.Config{Topic: cfg.Topic}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("notifier init failed: %w", err)
	}
	return notifier, nil
}

func setupCollectors(app *App) *collector.Registry {
	hosts := make(map[string]ratelimit.HostLimit, len(app.cfg.RateLimit.Hosts))
	for host, limit := range app.cfg.RateLimit.Hosts {
		hosts[host] = ratelimit.HostLimit{RPS: limit.RPS, Burst: limit.Burst}
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   app.cfg.RateLimit.DefaultRPS,
		DefaultBurst: app.cfg.RateLimit.DefaultBurst,
		Hosts:        hosts,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     app.cfg.Fetch.UserAgent,
		RespectRobots: app.cfg.Fetch.RespectRobots,
		Timeout:       app.cfg.Fetch.Timeout,
	}, limiter)
	normalizer := collector.NewNormalizer()
	return collector.NewRegistry().
		Register(ingest.SourceTypeRSS, collector.NewFeed(fetcher, normalizer)).
		Register(ingest.SourceTypeWeb, collector.NewWeb(fetcher, normalizer)).
		Register(ingest.SourceTypeFile, collector.NewFile())
}

func setupProgress(app *App) (*progress.Hub, error) {
	cfg := app.cfg.Progress
	var sinks []progress.Sink
	if cfg.LogEvents {
		sinks = append(sinks, progresssinks.NewLogSink(app.logger))
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinks = append(sinks, promSink)
	if cfg.HistoryPerSource > 0 {
		app.history = progresssinks.NewHistorySink(cfg.HistoryPerSource)
		sinks = append(sinks, app.history)
	}
	return progress.NewHub(progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait,
		SinkTimeout:    cfg.SinkTimeout,
		Logger:         app.logger.Named("progress"),
	}, sinks...), nil
}
