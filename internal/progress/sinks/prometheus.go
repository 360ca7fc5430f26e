package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/mse-history-crawler/internal/progress"
)

// Window outcome label values.
const (
	outcomeFetched   = "fetched"
	outcomeSkipped   = "skipped"
	outcomeAbandoned = "abandoned"
)

// PrometheusSink exports crawl progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runDuration   prometheus.Histogram
	entitiesDone  prometheus.Counter
	entitiesBusy  prometheus.Gauge
	fallbacks     prometheus.Counter
	windows       *prometheus.CounterVec
	rows          prometheus.Counter
	fetchAttempts prometheus.Histogram
	fetchDuration prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "history_runs_started_total",
			Help: "Crawl runs that have started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "history_runs_finished_total",
			Help: "Crawl runs that have finished, partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "history_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}),
		entitiesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "history_entities_processed_total",
			Help: "Entities whose window sequence has been processed.",
		}),
		entitiesBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "history_entities_in_progress",
			Help: "Entities currently being processed.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "history_fallbacks_total",
			Help: "Entities that switched to the fallback window sequence.",
		}),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "history_windows_total",
			Help: "Windows handled, partitioned by outcome.",
		}, []string{"outcome"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "history_rows_extracted_total",
			Help: "Table rows extracted from fetched windows.",
		}),
		fetchAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "history_fetch_attempts",
			Help:    "Attempts spent per fetched or abandoned window.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "history_window_fetch_duration_seconds",
			Help:    "Time spent fetching a window, retries included.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runDuration,
		s.entitiesDone,
		s.entitiesBusy,
		s.fallbacks,
		s.windows,
		s.rows,
		s.fetchAttempts,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.finishRun(evt, "completed")
	case progress.StageRunInterrupted:
		s.finishRun(evt, "interrupted")
	case progress.StageEntityStart:
		s.entitiesBusy.Inc()
	case progress.StageEntityDone:
		s.entitiesBusy.Dec()
		s.entitiesDone.Inc()
	case progress.StageFallback:
		s.fallbacks.Inc()
	case progress.StageWindowSkipped:
		s.windows.WithLabelValues(outcomeSkipped).Inc()
	case progress.StageWindowFetched:
		s.windows.WithLabelValues(outcomeFetched).Inc()
		s.rows.Add(float64(evt.Rows))
		s.observeFetch(evt)
	case progress.StageWindowAbandoned:
		s.windows.WithLabelValues(outcomeAbandoned).Inc()
		s.observeFetch(evt)
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeFetch(evt progress.Event) {
	if evt.Attempts > 0 {
		s.fetchAttempts.Observe(float64(evt.Attempts))
	}
	if evt.Dur > 0 {
		s.fetchDuration.Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
