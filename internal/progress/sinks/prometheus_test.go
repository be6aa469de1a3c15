package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sourcesync/internal/progress"
)

func TestPrometheusSinkRecordsRuns(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	okRun := progress.NewRunID()
	badRun := progress.NewRunID()
	now := time.Now().UTC()
	batch := []progress.Event{
		{RunID: okRun, SourceID: "src-1", SourceType: "RSS", TS: now, Stage: progress.StageSyncStart, Trigger: "tick"},
		{RunID: badRun, SourceID: "src-2", SourceType: "WEB", TS: now, Stage: progress.StageSyncStart, Trigger: "manual"},
		{
			RunID:      okRun,
			SourceID:   "src-1",
			SourceType: "RSS",
			TS:         now.Add(time.Second),
			Stage:      progress.StageSyncDone,
			Documents:  3,
			Dur:        time.Second,
		},
		{RunID: okRun, SourceID: "src-1", SourceType: "RSS", TS: now, Stage: progress.StageFanoutError, Note: "index: boom"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("tick")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("manual")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("RSS", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.runDocuments.WithLabelValues("RSS")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fanoutErrors.WithLabelValues("RSS")))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: badRun, SourceID: "src-2", SourceType: "WEB", TS: now, Stage: progress.StageSyncError, Note: "timeout"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("WEB", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
}

func TestPrometheusSinkIgnoresUnknownCompletion(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.NewRunID(), SourceID: "src-1", SourceType: "RSS", TS: time.Now(), Stage: progress.StageSyncDone},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
