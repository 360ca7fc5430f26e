package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
	"github.com/JakeFAU/mse-history-crawler/internal/progress"
)

// FetchStatus is the outcome of fetching one window.
type FetchStatus int

// Fetch outcomes.
const (
	FetchSucceeded FetchStatus = iota + 1
	FetchAbandoned
	FetchCanceled
	FetchSkipped
)

func (s FetchStatus) String() string {
	switch s {
	case FetchSucceeded:
		return "succeeded"
	case FetchAbandoned:
		return "abandoned"
	case FetchCanceled:
		return "canceled"
	case FetchSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("FetchStatus(%d)", int(s))
	}
}

// FetchResult describes one window fetch.
type FetchResult struct {
	Status   FetchStatus
	Rows     int
	Attempts int
	Err      error
}

// FetchWindow runs select, set window, search, wait and extract against the
// worker's session, retrying the whole sequence after a fixed delay until
// MaxAttempts is spent. Rows and the checkpoint are recorded only on success.
func (w *Worker) FetchWindow(ctx context.Context, entity crawler.Entity, window crawler.Window) FetchResult {
	logger := w.logger.With(zap.String("entity", string(entity)), zap.Stringer("window", window))
	started := time.Now()

	var (
		rows     [][]string
		attempts int
	)
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		w.stats.attempts.Add(1)
		got, err := w.attempt(ctx, entity, window)
		if err != nil {
			w.discardSession()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			return err
		}
		rows = got
		return nil
	}
	notify := func(err error, delay time.Duration) {
		logger.Warn("window fetch failed; retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", w.cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotifyWithTimer(operation, w.retryPolicy(ctx), notify, w.timer)
	elapsed := time.Since(started)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("window fetch interrupted", zap.Int("attempts", attempts))
			return FetchResult{Status: FetchCanceled, Attempts: attempts, Err: err}
		}
		w.stats.abandoned.Add(1)
		w.emit(progress.Event{
			Stage:    progress.StageWindowAbandoned,
			Entity:   string(entity),
			Window:   window.String(),
			Attempts: attempts,
			Dur:      elapsed,
			Note:     err.Error(),
		})
		logger.Error("window abandoned after max attempts",
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return FetchResult{Status: FetchAbandoned, Attempts: attempts, Err: err}
	}

	key := crawler.KeyFor(entity, window)
	for _, cells := range rows {
		fields := make([]string, len(cells))
		for i, cell := range cells {
			fields[i] = w.cfg.Formatter(cell)
		}
		w.state.AppendRow(crawler.Observation{Entity: entity, From: key.From, To: key.To, Fields: fields})
	}
	w.state.RecordCheckpoint(key)
	w.stats.fetched.Add(1)
	w.stats.rows.Add(int64(len(rows)))
	w.emit(progress.Event{
		Stage:    progress.StageWindowFetched,
		Entity:   string(entity),
		Window:   window.String(),
		Rows:     len(rows),
		Attempts: attempts,
		Dur:      elapsed,
	})
	logger.Info("window fetched", zap.Int("rows", len(rows)), zap.Int("attempts", attempts))
	return FetchResult{Status: FetchSucceeded, Rows: len(rows), Attempts: attempts}
}

func (w *Worker) retryPolicy(ctx context.Context) backoff.BackOffContext {
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if w.cfg.MaxAttempts > 1 {
		policy = backoff.WithMaxRetries(
			backoff.NewConstantBackOff(w.cfg.RetryDelay),
			uint64(w.cfg.MaxAttempts-1),
		)
	}
	return backoff.WithContext(policy, ctx)
}

func (w *Worker) attempt(ctx context.Context, entity crawler.Entity, window crawler.Window) ([][]string, error) {
	driver, err := w.session(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if err := driver.SelectEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("select entity: %w", err)
	}
	if err := driver.SetWindow(ctx, window); err != nil {
		return nil, fmt.Errorf("set window: %w", err)
	}
	if err := driver.Search(ctx); err != nil {
		return nil, fmt.Errorf("submit search: %w", err)
	}
	if err := driver.WaitResults(ctx); err != nil {
		return nil, fmt.Errorf("wait for results: %w", err)
	}
	markup, err := driver.PageSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page source: %w", err)
	}
	rows, err := w.extractor.Extract(markup)
	if err != nil {
		return nil, fmt.Errorf("extract rows: %w", err)
	}
	return rows, nil
}
