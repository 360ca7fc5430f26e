package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/mse-history-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageEntityStart, Entity: "ALK"},
		{RunID: runID, TS: now, Stage: progress.StageWindowSkipped, Entity: "ALK", Window: "10/9/2014-8/9/2015"},
		{
			RunID:    runID,
			TS:       now,
			Stage:    progress.StageWindowFetched,
			Entity:   "ALK",
			Window:   "10/9/2015-8/9/2016",
			Rows:     2,
			Attempts: 1,
			Dur:      1500 * time.Millisecond,
		},
		{
			RunID:    runID,
			TS:       now,
			Stage:    progress.StageWindowAbandoned,
			Entity:   "ALK",
			Window:   "10/9/2016-8/9/2017",
			Attempts: 5,
			Dur:      20 * time.Second,
		},
		{RunID: runID, TS: now, Stage: progress.StageFallback, Entity: "ALK"},
		{RunID: runID, TS: now, Stage: progress.StageEntityDone, Entity: "ALK", Rows: 2},
		{RunID: runID, TS: now, Stage: progress.StageRunInterrupted, Dur: time.Minute},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("interrupted")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.entitiesDone))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.entitiesBusy))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fallbacks))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.windows.WithLabelValues(outcomeSkipped)))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.windows.WithLabelValues(outcomeFetched)))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.windows.WithLabelValues(outcomeAbandoned)))
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.rows), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "history_window_fetch_duration_seconds"))
}

// TestPrometheusSinkRejectsDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{
		RunID:    progress.UUIDToBytes(uuid.New()),
		TS:       time.Now(),
		Stage:    progress.StageWindowFetched,
		Entity:   "ALK",
		Window:   "10/9/2014-8/9/2015",
		Rows:     2,
		Attempts: 1,
	}}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("progress event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "WINDOW_FETCHED", fields["stage"])
	require.Equal(t, "ALK", fields["entity"])
	require.EqualValues(t, 2, fields["rows"])
}
