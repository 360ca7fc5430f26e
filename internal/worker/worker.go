// Package worker runs the per-entity crawl: it walks the backfill windows,
// falls back to the recent windows when the backfill yields nothing and
// fetches each pending window with a bounded number of attempts.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
	"github.com/JakeFAU/mse-history-crawler/internal/progress"
)

// Defaults applied by New when Config leaves them unset.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 3 * time.Second
)

// WindowSource enumerates the windows an entity is crawled over.
type WindowSource interface {
	Backfill() []crawler.Window
	Fallback(now time.Time) []crawler.Window
	Today(now time.Time) time.Time
}

// Config controls Worker behavior.
type Config struct {
	ID          int
	RunID       [16]byte
	MaxAttempts int
	RetryDelay  time.Duration
	Formatter   crawler.CellFormatter
}

// Worker consumes entities from the queue and crawls them with its own page session.
// A Worker is driven by a single goroutine.
type Worker struct {
	queue     crawler.Queue
	sessions  crawler.SessionFactory
	extractor crawler.RowExtractor
	windows   WindowSource
	state     *crawler.RunState
	stats     *Stats
	emitter   progress.Emitter
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	driver crawler.PageDriver
	timer  backoff.Timer
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	sessions crawler.SessionFactory,
	extractor crawler.RowExtractor,
	windows WindowSource,
	state *crawler.RunState,
	stats *Stats,
	emitter progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Formatter == nil {
		cfg.Formatter = func(value string) string { return value }
	}
	if stats == nil {
		stats = &Stats{}
	}
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		sessions:  sessions,
		extractor: extractor,
		windows:   windows,
		state:     state,
		stats:     stats,
		emitter:   emitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker", cfg.ID)),
	}
}

// Run consumes the queue until it is closed and drained or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	defer w.discardSession()
	for {
		entity, err := w.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, crawler.ErrQueueClosed) && ctx.Err() == nil {
				w.logger.Error("dequeue failed", zap.Error(err))
			}
			return
		}
		w.ProcessEntity(ctx, entity)
		if ctx.Err() != nil {
			return
		}
	}
}

// EntityResult summarizes one entity's pass.
type EntityResult struct {
	Entity   crawler.Entity
	NewRows  int
	Fallback bool
	Canceled bool
}

// ProcessEntity walks the backfill windows for entity and, when they yield no
// new rows, the fallback windows. Cancellation is honored between windows.
func (w *Worker) ProcessEntity(ctx context.Context, entity crawler.Entity) EntityResult {
	logger := w.logger.With(zap.String("entity", string(entity)))
	result := EntityResult{Entity: entity}
	now := w.clock.Now()
	today := w.windows.Today(now)

	w.emit(progress.Event{Stage: progress.StageEntityStart, Entity: string(entity)})
	logger.Info("processing entity")

	for _, window := range w.windows.Backfill() {
		if ctx.Err() != nil {
			result.Canceled = true
			return w.finishEntity(logger, result)
		}
		if !window.CompleteBefore(today) && !w.state.Completed(crawler.KeyFor(entity, window)) {
			w.stats.deferred.Add(1)
			logger.Info("window not yet complete; deferring", zap.Stringer("window", window))
			continue
		}
		res, ok := w.visit(ctx, logger, entity, window)
		result.NewRows += res.Rows
		if !ok {
			result.Canceled = true
			return w.finishEntity(logger, result)
		}
	}

	if result.NewRows == 0 {
		result.Fallback = true
		w.stats.fallbacks.Add(1)
		w.emit(progress.Event{Stage: progress.StageFallback, Entity: string(entity)})
		logger.Info("fallback triggered; backfill yielded no new rows")
		for _, window := range w.windows.Fallback(now) {
			if ctx.Err() != nil {
				result.Canceled = true
				return w.finishEntity(logger, result)
			}
			res, ok := w.visit(ctx, logger, entity, window)
			result.NewRows += res.Rows
			if !ok {
				result.Canceled = true
				return w.finishEntity(logger, result)
			}
		}
	}
	return w.finishEntity(logger, result)
}

// visit skips checkpointed windows and fetches the rest. It reports false
// when the fetch was cut short by cancellation.
func (w *Worker) visit(
	ctx context.Context,
	logger *zap.Logger,
	entity crawler.Entity,
	window crawler.Window,
) (FetchResult, bool) {
	if w.state.Completed(crawler.KeyFor(entity, window)) {
		w.stats.skipped.Add(1)
		w.emit(progress.Event{
			Stage:  progress.StageWindowSkipped,
			Entity: string(entity),
			Window: window.String(),
		})
		logger.Info("window already scraped; skipping", zap.Stringer("window", window))
		return FetchResult{Status: FetchSkipped}, true
	}
	res := w.FetchWindow(ctx, entity, window)
	return res, res.Status != FetchCanceled
}

func (w *Worker) finishEntity(logger *zap.Logger, result EntityResult) EntityResult {
	if result.Canceled {
		logger.Warn("entity interrupted", zap.Int("new_rows", result.NewRows))
		return result
	}
	w.stats.entities.Add(1)
	w.emit(progress.Event{
		Stage:  progress.StageEntityDone,
		Entity: string(result.Entity),
		Rows:   result.NewRows,
	})
	logger.Info("entity done",
		zap.Int("new_rows", result.NewRows),
		zap.Bool("fallback", result.Fallback),
	)
	return result
}

func (w *Worker) emit(evt progress.Event) {
	evt.RunID = w.cfg.RunID
	evt.TS = w.clock.Now().UTC()
	w.emitter.Emit(evt)
}

func (w *Worker) session(ctx context.Context) (crawler.PageDriver, error) {
	if w.driver != nil {
		return w.driver, nil
	}
	driver, err := w.sessions.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	w.driver = driver
	return driver, nil
}

// discardSession closes the current session; the next attempt opens a fresh one.
func (w *Worker) discardSession() {
	if w.driver == nil {
		return
	}
	if err := w.driver.Close(); err != nil {
		w.logger.Debug("close page session", zap.Error(err))
	}
	w.driver = nil
}
