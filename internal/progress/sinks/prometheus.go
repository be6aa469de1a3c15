package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sourcesync/internal/progress"
)

// PrometheusSink derives run-level collectors from sync events.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	runDocuments  *prometheus.CounterVec
	fanoutErrors  *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcesync_runs_started_total",
			Help: "Sync runs started, partitioned by trigger.",
		}, []string{"trigger"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcesync_runs_completed_total",
			Help: "Sync runs completed, partitioned by source type and result.",
		}, []string{"source_type", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sourcesync_runs_running",
			Help: "Sync runs started but not yet finished.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sourcesync_run_duration_seconds",
			Help:    "Wall time per finished sync run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}, []string{"result"}),
		runDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcesync_run_documents_total",
			Help: "New documents reported by finished runs, per source type.",
		}, []string{"source_type"}),
		fanoutErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcesync_run_fanout_errors_total",
			Help: "Fan-out failures reported by runs, per source type.",
		}, []string{"source_type"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.runDocuments,
		s.fanoutErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register sync event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSyncStart:
		s.runsStarted.WithLabelValues(evt.Trigger).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageSyncDone:
		s.finish(evt, "success")
		if evt.Documents > 0 {
			s.runDocuments.WithLabelValues(evt.SourceType).Add(float64(evt.Documents))
		}
	case progress.StageSyncError:
		s.finish(evt, "error")
	case progress.StageFanoutError:
		s.fanoutErrors.WithLabelValues(evt.SourceType).Inc()
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(evt.SourceType, result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements progress.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
