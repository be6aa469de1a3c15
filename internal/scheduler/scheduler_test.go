package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/clock/manual"
	"github.com/JakeFAU/sourcesync/internal/id/uuid"
	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/lifecycle"
	"github.com/JakeFAU/sourcesync/internal/pipeline"
	"github.com/JakeFAU/sourcesync/internal/storage/memory"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// gateCollector returns fixed items per source, optionally blocking each
// call until release is closed.
type gateCollector struct {
	mu      sync.Mutex
	items   map[string][]ingest.Item
	errs    map[string]error
	calls   map[string]int
	live    map[string]int
	maxLive map[string]int
	started chan string
	release chan struct{}
}

func newGateCollector(blocking bool) *gateCollector {
	c := &gateCollector{
		items:   make(map[string][]ingest.Item),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
		live:    make(map[string]int),
		maxLive: make(map[string]int),
		started: make(chan string, 64),
	}
	if blocking {
		c.release = make(chan struct{})
	}
	return c
}

func (c *gateCollector) Collect(_ context.Context, source ingest.Source) ([]ingest.Item, error) {
	c.mu.Lock()
	c.calls[source.ID]++
	c.live[source.ID]++
	if c.live[source.ID] > c.maxLive[source.ID] {
		c.maxLive[source.ID] = c.live[source.ID]
	}
	items, err := c.items[source.ID], c.errs[source.ID]
	c.mu.Unlock()

	c.started <- source.ID
	if c.release != nil {
		<-c.release
	}

	c.mu.Lock()
	c.live[source.ID]--
	c.mu.Unlock()
	if err != nil {
		return nil, &ingest.CollectionError{SourceID: source.ID, Err: err}
	}
	return items, nil
}

func (c *gateCollector) Calls(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func (c *gateCollector) MaxLive(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxLive[id]
}

type recordingFanout struct {
	mu      sync.Mutex
	batches [][]ingest.Document
}

func (f *recordingFanout) Dispatch(_ ingest.Source, docs []ingest.Document) {
	if len(docs) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, docs)
}

func (f *recordingFanout) Batches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type harness struct {
	sched     *Scheduler
	store     *memory.Store
	collector *gateCollector
	fanout    *recordingFanout
	results   chan Result
}

func newHarness(t *testing.T, store ingest.Store, mem *memory.Store, blocking bool, cfg Config) *harness {
	t.Helper()
	clk := manual.New(testNow)
	h := &harness{
		store:     mem,
		collector: newGateCollector(blocking),
		fanout:    &recordingFanout{},
		results:   make(chan Result, 64),
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}
	sched, err := New(Deps{
		Store:     store,
		Collector: h.collector,
		Pipeline:  pipeline.New(uuid.New(), clk, zap.NewNop()),
		Fanout:    h.fanout,
		Clock:     clk,
		Logger:    zap.NewNop(),
	}, cfg, WithOnComplete(func(r Result) { h.results <- r }))
	require.NoError(t, err)
	h.sched = sched
	return h
}

func (h *harness) releaseAll() {
	if h.collector.release != nil {
		close(h.collector.release)
	}
}

func (h *harness) waitResult(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for worker completion")
		return Result{}
	}
}

func (h *harness) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-h.collector.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for collector start")
		return ""
	}
}

func seed(t *testing.T, store *memory.Store, id string, mutate func(*ingest.Source)) {
	t.Helper()
	src := ingest.Source{
		ID:       id,
		Name:     "source " + id,
		URL:      "https://example.com/" + id,
		Type:     ingest.SourceTypeRSS,
		Interval: ingest.IntervalOneDay,
		IsActive: true,
		NextSync: testNow.Add(-24 * time.Hour),
		Config:   ingest.SourceConfig{RSS: &ingest.RSSConfig{}},
	}
	if mutate != nil {
		mutate(&src)
	}
	require.NoError(t, store.CreateSource(context.Background(), src))
}

func items(links ...string) []ingest.Item {
	out := make([]ingest.Item, 0, len(links))
	for _, l := range links {
		out = append(out, ingest.Item{Title: "title " + l, Link: l})
	}
	return out
}

func stop(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.Stop(context.Background()))
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{})
	require.Error(t, err)
}

func TestDueSourceCollectedOnStart(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "a", nil)
	ctx := context.Background()

	// One link already exists from another source.
	sess, err := store.OpenSession(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.CreateDocument(ctx, ingest.Document{ID: "pre", Link: "https://example.com/dup", SourceID: "other"}))

	h := newHarness(t, store, store, false, Config{})
	h.collector.items["a"] = items(
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/dup",
		"https://example.com/3",
	)
	h.sched.Start(ctx)
	res := h.waitResult(t)
	stop(t, h.sched)

	require.NoError(t, res.Err)
	require.Equal(t, 3, res.Documents)
	require.Equal(t, ingest.TriggerTick, res.Trigger)
	require.Equal(t, lifecycle.StateCooldown, res.State)
	require.Len(t, store.Documents(), 4)
	require.Equal(t, 1, h.fanout.Batches())

	src, err := store.GetSource(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, 3, src.TotalDocuments)
	require.Equal(t, 3, src.LastDocumentCount)
	require.Zero(t, src.SyncErrors)
	require.Nil(t, src.LastError)
	require.NotNil(t, src.LastSync)
	require.Equal(t, testNow, *src.LastSync)
	require.Equal(t, testNow.Add(24*time.Hour), src.NextSync)
	require.Empty(t, h.sched.GetStatus().Active)
}

func TestPausedSourceNeverDispatched(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "paused", func(s *ingest.Source) { s.IsPaused = true })
	before, err := store.GetSource(context.Background(), "paused")
	require.NoError(t, err)

	h := newHarness(t, store, store, false, Config{})
	h.sched.Start(context.Background())
	n, err := h.sched.Tick(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	stop(t, h.sched)

	require.Zero(t, h.collector.Calls("paused"))
	after, err := store.GetSource(context.Background(), "paused")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestCollectionFailureRecordsError(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "bad", func(s *ingest.Source) { s.TotalDocuments = 5 })

	h := newHarness(t, store, store, false, Config{})
	h.collector.errs["bad"] = errors.New("feed returned 503")
	h.sched.Start(context.Background())
	res := h.waitResult(t)
	stop(t, h.sched)

	var collErr *ingest.CollectionError
	require.ErrorAs(t, res.Err, &collErr)
	require.Equal(t, lifecycle.StateErroring, res.State)

	src, err := store.GetSource(context.Background(), "bad")
	require.NoError(t, err)
	require.Equal(t, 1, src.SyncErrors)
	require.NotNil(t, src.LastError)
	require.Equal(t, "feed returned 503", *src.LastError)
	require.Equal(t, testNow.Add(24*time.Hour), src.NextSync)
	require.EqualValues(t, 5, src.TotalDocuments)
	require.Zero(t, h.fanout.Batches())
}

func TestTriggerNowRejectedWhileTickWorkerLive(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "a", nil)
	h := newHarness(t, store, store, true, Config{})
	h.collector.items["a"] = items("https://example.com/1")

	ctx := context.Background()
	h.sched.Start(ctx)
	require.Equal(t, "a", h.waitStarted(t))

	_, err := h.sched.TriggerNow(ctx, "a")
	require.ErrorIs(t, err, ingest.ErrAlreadyRunning)

	status := h.sched.GetStatus()
	require.True(t, status.Running)
	require.Len(t, status.Active, 1)
	require.Equal(t, ingest.TriggerTick, status.Active[0].Trigger)

	h.releaseAll()
	h.waitResult(t)
	stop(t, h.sched)
	require.Equal(t, 1, h.fanout.Batches())
	require.Len(t, store.Documents(), 1)
}

func TestConcurrentTriggerAndTickKeepOneWorker(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "a", nil)
	h := newHarness(t, store, store, true, Config{})
	h.collector.items["a"] = items("https://example.com/1")

	ctx := context.Background()
	h.sched.Start(ctx)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if _, err := h.sched.TriggerNow(ctx, "a"); err == nil {
					accepted.Add(1)
				}
				return
			}
			if n, err := h.sched.Tick(ctx); err == nil {
				accepted.Add(int32(n))
			}
		}(i)
	}
	wg.Wait()
	h.waitStarted(t)
	require.Len(t, h.sched.GetStatus().Active, 1)

	h.releaseAll()
	h.waitResult(t)
	stop(t, h.sched)

	require.Equal(t, 1, h.collector.MaxLive("a"))
	require.Equal(t, 1, h.collector.Calls("a"))
	// The Start evaluation may win the race, in which case no caller was accepted.
	require.LessOrEqual(t, accepted.Load(), int32(1))
	require.Equal(t, 1, h.fanout.Batches())
}

func TestStopWaitsForInFlightWorkers(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "a", nil)
	seed(t, store, "b", nil)
	h := newHarness(t, store, store, true, Config{StopTimeout: 5 * time.Second})

	h.sched.Start(context.Background())
	h.waitStarted(t)
	h.waitStarted(t)

	stopErr := make(chan error, 1)
	go func() { stopErr <- h.sched.Stop(context.Background()) }()
	require.Eventually(t, func() bool { return !h.sched.Running() }, time.Second, 5*time.Millisecond)
	require.Len(t, h.sched.GetStatus().Active, 2)

	h.releaseAll()
	require.NoError(t, <-stopErr)

	seen := map[string]int{}
	for range 2 {
		seen[h.waitResult(t).SourceID]++
	}
	require.Equal(t, map[string]int{"a": 1, "b": 1}, seen)
	select {
	case r := <-h.results:
		t.Fatalf("unexpected extra completion for %s", r.SourceID)
	case <-time.After(50 * time.Millisecond):
	}
	require.Empty(t, h.sched.GetStatus().Active)
}

func TestStopTimeoutAbandonsWorkers(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "slow", nil)
	h := newHarness(t, store, store, true, Config{StopTimeout: 20 * time.Millisecond})
	h.collector.items["slow"] = items("https://example.com/late")

	h.sched.Start(context.Background())
	h.waitStarted(t)

	err := h.sched.Stop(context.Background())
	require.ErrorIs(t, err, ErrStopTimeout)
	require.ErrorContains(t, err, "1 workers abandoned")

	_, err = h.sched.TriggerNow(context.Background(), "slow")
	require.ErrorIs(t, err, ingest.ErrSchedulerStopped)

	h.releaseAll()
	res := h.waitResult(t)
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.Documents)
	require.Empty(t, h.sched.GetStatus().Active)
}

func TestMaxConcurrentKeepsSkippedSourceDue(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "a", nil)
	seed(t, store, "b", nil)
	h := newHarness(t, store, store, true, Config{MaxConcurrent: 1})

	ctx := context.Background()
	h.sched.Start(ctx)
	first := h.waitStarted(t)
	require.Len(t, h.sched.GetStatus().Active, 1)

	other := "a"
	if first == "a" {
		other = "b"
	}
	_, err := h.sched.TriggerNow(ctx, other)
	require.ErrorIs(t, err, ErrAtCapacity)

	h.releaseAll()
	h.waitResult(t)

	n, err := h.sched.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	res := h.waitResult(t)
	require.Equal(t, other, res.SourceID)
	stop(t, h.sched)
}

func TestTriggerNowErrors(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "future", func(s *ingest.Source) { s.NextSync = testNow.Add(time.Hour) })
	seed(t, store, "paused", func(s *ingest.Source) {
		s.IsPaused = true
		s.NextSync = testNow.Add(time.Hour)
	})
	seed(t, store, "inactive", func(s *ingest.Source) {
		s.IsActive = false
		s.NextSync = testNow.Add(time.Hour)
	})
	h := newHarness(t, store, store, false, Config{})
	ctx := context.Background()

	_, err := h.sched.TriggerNow(ctx, "future")
	require.ErrorIs(t, err, ingest.ErrSchedulerStopped)

	h.sched.Start(ctx)
	defer stop(t, h.sched)

	_, err = h.sched.TriggerNow(ctx, "paused")
	require.ErrorIs(t, err, ingest.ErrSourcePaused)
	_, err = h.sched.TriggerNow(ctx, "inactive")
	require.ErrorIs(t, err, ingest.ErrSourceInactive)
	_, err = h.sched.TriggerNow(ctx, "missing")
	require.ErrorIs(t, err, ingest.ErrSourceNotFound)

	handle, err := h.sched.TriggerNow(ctx, "future")
	require.NoError(t, err)
	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manual worker did not finish")
	}
	res := h.waitResult(t)
	require.Equal(t, ingest.TriggerManual, res.Trigger)
}

func TestForgetDropsHandle(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "a", func(s *ingest.Source) { s.NextSync = testNow.Add(time.Hour) })
	h := newHarness(t, store, store, true, Config{})
	ctx := context.Background()
	h.sched.Start(ctx)

	first, err := h.sched.TriggerNow(ctx, "a")
	require.NoError(t, err)
	h.waitStarted(t)

	h.sched.Forget("a")
	require.Empty(t, h.sched.GetStatus().Active)

	second, err := h.sched.TriggerNow(ctx, "a")
	require.NoError(t, err)
	require.NotSame(t, first, second)
	h.waitStarted(t)

	h.releaseAll()
	<-first.Done()
	<-second.Done()
	h.waitResult(t)
	h.waitResult(t)
	require.Empty(t, h.sched.GetStatus().Active)
	stop(t, h.sched)
}

// staleStore serves due lists captured before the source changed.
type staleStore struct {
	*memory.Store
	due []ingest.Source
}

func (s *staleStore) ListDueSources(context.Context, time.Time) ([]ingest.Source, error) {
	return s.due, nil
}

func TestWorkerDiscardsSourcePausedAfterDispatch(t *testing.T) {
	t.Parallel()

	mem := memory.NewStore()
	seed(t, mem, "a", nil)
	snapshot, err := mem.GetSource(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, mem.SetPaused(context.Background(), "a", true, testNow))

	h := newHarness(t, &staleStore{Store: mem, due: []ingest.Source{snapshot}}, mem, false, Config{})
	h.sched.Start(context.Background())
	res := h.waitResult(t)
	stop(t, h.sched)

	require.True(t, res.Discarded)
	require.Equal(t, lifecycle.StatePaused, res.State)
	require.Zero(t, h.collector.Calls("a"))
	after, err := mem.GetSource(context.Background(), "a")
	require.NoError(t, err)
	require.Zero(t, after.SyncErrors)
	require.Nil(t, after.LastSync)
}

func TestSchedulerSurvivesRepeatedFailures(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	for i := range 5 {
		seed(t, store, fmt.Sprintf("s%d", i), nil)
	}
	h := newHarness(t, store, store, false, Config{})
	for i := range 5 {
		h.collector.errs[fmt.Sprintf("s%d", i)] = errors.New("down")
	}
	h.sched.Start(context.Background())
	for range 5 {
		require.Error(t, h.waitResult(t).Err)
	}
	require.True(t, h.sched.Running())
	stop(t, h.sched)

	sources, err := store.ListSources(context.Background())
	require.NoError(t, err)
	for _, src := range sources {
		require.Equal(t, 1, src.SyncErrors, src.ID)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	h := newHarness(t, store, store, false, Config{})
	h.sched.Start(context.Background())
	h.sched.Start(context.Background())
	require.True(t, h.sched.Running())
	stop(t, h.sched)
	stop(t, h.sched)
	require.False(t, h.sched.Running())
}

func TestDisableTickerOnlyDispatchesOnDemand(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seed(t, store, "due", nil)
	h := newHarness(t, store, store, false, Config{DisableTicker: true})
	ctx := context.Background()
	h.sched.Start(ctx)
	defer stop(t, h.sched)

	require.Never(t, func() bool { return h.collector.Calls("due") > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	handle, err := h.sched.TriggerNow(ctx, "due")
	require.NoError(t, err)
	<-handle.Done()
	res := h.waitResult(t)
	require.Equal(t, ingest.TriggerManual, res.Trigger)
}
