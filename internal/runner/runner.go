// Package runner is the crawl's run controller. It discovers the entities,
// loads prior checkpoints, fans the entities out to the worker pool and
// flushes the accumulated rows exactly once, whether the run completes or
// is interrupted.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
	"github.com/JakeFAU/mse-history-crawler/internal/dispatcher"
	"github.com/JakeFAU/mse-history-crawler/internal/progress"
	"github.com/JakeFAU/mse-history-crawler/internal/queue/memory"
	"github.com/JakeFAU/mse-history-crawler/internal/worker"
)

// ErrInterrupted is returned when the run was stopped before every entity was processed.
var ErrInterrupted = errors.New("run interrupted")

const flushTimeout = 2 * time.Minute

// Config controls a run.
type Config struct {
	Concurrency int
	// Entities optionally restricts the discovered entities.
	Entities []string
	Worker   worker.Config
}

// Phase is the coarse lifecycle position of a run.
type Phase string

// Run phases.
const (
	PhaseIdle        Phase = "idle"
	PhaseDiscovering Phase = "discovering"
	PhaseCrawling    Phase = "crawling"
	PhaseFlushing    Phase = "flushing"
	PhaseDone        Phase = "done"
	PhaseInterrupted Phase = "interrupted"
	PhaseFailed      Phase = "failed"
)

// Summary describes a finished run.
type Summary struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	Entities         []crawler.Entity
	PriorCheckpoints int
	NewCheckpoints   int
	RowsFlushed      int
	FlushErr         error
	Interrupted      bool
	Stats            worker.Snapshot
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Status is a live view of the current run for the status endpoint.
type Status struct {
	RunID    string          `json:"run_id,omitempty"`
	Phase    Phase           `json:"phase"`
	Entities int             `json:"entities"`
	Stats    worker.Snapshot `json:"stats"`
}

type liveRun struct {
	runID    string
	phase    atomic.Value
	entities atomic.Int64
	stats    *worker.Stats
}

// Runner wires the collaborators of a crawl run.
type Runner struct {
	sessions  crawler.SessionFactory
	lister    crawler.EntityLister
	extractor crawler.RowExtractor
	windows   worker.WindowSource
	store     crawler.CheckpointStore
	exporters []crawler.Exporter
	emitter   progress.Emitter
	clock     crawler.Clock
	ids       crawler.IDGenerator
	cfg       Config
	logger    *zap.Logger

	live atomic.Pointer[liveRun]
}

// New constructs a Runner. A nil lister means entities are discovered through
// a browser session.
func New(
	sessions crawler.SessionFactory,
	lister crawler.EntityLister,
	extractor crawler.RowExtractor,
	windows worker.WindowSource,
	store crawler.CheckpointStore,
	exporters []crawler.Exporter,
	emitter progress.Emitter,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		sessions:  sessions,
		lister:    lister,
		extractor: extractor,
		windows:   windows,
		store:     store,
		exporters: exporters,
		emitter:   emitter,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger.Named("runner"),
	}
}

// Run performs one crawl. It returns ErrInterrupted (with a populated
// Summary) when ctx ends before the entities are exhausted; the accumulated
// rows are flushed in either case.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	runID, err := r.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	runKey, err := progress.ParseRunID(runID)
	if err != nil {
		r.logger.Warn("run id is not a uuid; progress events disabled", zap.String("run_id", runID))
	}
	live := &liveRun{runID: runID, stats: &worker.Stats{}}
	live.phase.Store(PhaseDiscovering)
	r.live.Store(live)

	logger := r.logger.With(zap.String("run_id", runID))
	summary := Summary{RunID: runID, StartedAt: r.clock.Now()}
	r.emit(runKey, progress.Event{Stage: progress.StageRunStart})

	entities, err := r.discover(ctx)
	if err != nil {
		summary.FinishedAt = r.clock.Now()
		if ctx.Err() != nil {
			live.phase.Store(PhaseInterrupted)
			summary.Interrupted = true
			return summary, ErrInterrupted
		}
		live.phase.Store(PhaseFailed)
		return summary, err
	}
	summary.Entities = entities
	live.entities.Store(int64(len(entities)))
	logger.Info("entities discovered", zap.Int("count", len(entities)))

	prior, err := r.store.Load(ctx)
	if err != nil {
		logger.Warn("checkpoint load incomplete; continuing with what was read",
			zap.Int("checkpoints", len(prior)),
			zap.Error(err),
		)
	} else {
		logger.Info("checkpoints loaded", zap.Int("checkpoints", len(prior)))
	}
	state := crawler.NewRunState(prior)
	summary.PriorCheckpoints = state.CheckpointCount()

	live.phase.Store(PhaseCrawling)
	if err := r.dispatch(ctx, runKey, entities, state, live.stats); err != nil && ctx.Err() == nil {
		logger.Error("dispatch stopped early", zap.Error(err))
	}
	summary.Interrupted = ctx.Err() != nil
	if summary.Interrupted {
		logger.Warn("interrupt received; saving progress")
	}

	// Single flush for both completion and interruption.
	live.phase.Store(PhaseFlushing)
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	rows := state.Rows()
	summary.FlushErr = r.flush(flushCtx, logger, state.Records())
	if summary.FlushErr == nil {
		summary.RowsFlushed = len(rows)
		r.export(flushCtx, logger, runID, rows)
	}

	summary.NewCheckpoints = state.NewCheckpointCount()
	summary.Stats = live.stats.Snapshot()
	summary.FinishedAt = r.clock.Now()

	stage := progress.StageRunDone
	if summary.Interrupted {
		stage = progress.StageRunInterrupted
		live.phase.Store(PhaseInterrupted)
	} else {
		live.phase.Store(PhaseDone)
	}
	r.emit(runKey, progress.Event{Stage: stage, Rows: len(rows), Dur: summary.Duration()})
	logger.Info("run finished",
		zap.Bool("interrupted", summary.Interrupted),
		zap.Int("rows", len(rows)),
		zap.Int("new_checkpoints", summary.NewCheckpoints),
		zap.Duration("duration", summary.Duration()),
	)
	if summary.Interrupted {
		return summary, ErrInterrupted
	}
	return summary, nil
}

// Status reports the live state of the current or last run.
func (r *Runner) Status() Status {
	live := r.live.Load()
	if live == nil {
		return Status{Phase: PhaseIdle}
	}
	phase, _ := live.phase.Load().(Phase)
	return Status{
		RunID:    live.runID,
		Phase:    phase,
		Entities: int(live.entities.Load()),
		Stats:    live.stats.Snapshot(),
	}
}

func (r *Runner) discover(ctx context.Context) ([]crawler.Entity, error) {
	raw, err := r.listRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover entities: %w", err)
	}
	entities := crawler.FilterEntities(raw)
	if len(r.cfg.Entities) > 0 {
		allowed := make(map[crawler.Entity]struct{}, len(r.cfg.Entities))
		for _, entity := range crawler.FilterEntities(r.cfg.Entities) {
			allowed[entity] = struct{}{}
		}
		kept := entities[:0]
		for _, entity := range entities {
			if _, ok := allowed[entity]; ok {
				kept = append(kept, entity)
			}
		}
		entities = kept
	}
	if len(entities) == 0 {
		return nil, crawler.ErrNoEntities
	}
	return entities, nil
}

func (r *Runner) listRaw(ctx context.Context) ([]string, error) {
	if r.lister != nil {
		return r.lister.ListEntities(ctx)
	}
	session, err := r.sessions.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open discovery session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.logger.Debug("close discovery session", zap.Error(cerr))
		}
	}()
	return session.ListEntities(ctx)
}

func (r *Runner) dispatch(
	ctx context.Context,
	runKey [16]byte,
	entities []crawler.Entity,
	state *crawler.RunState,
	stats *worker.Stats,
) error {
	size := r.cfg.Concurrency
	if size > len(entities) {
		size = len(entities)
	}
	queue := memory.NewQueue(len(entities))
	workers := make([]dispatcher.Worker, 0, size)
	for i := 0; i < size; i++ {
		cfg := r.cfg.Worker
		cfg.ID = i + 1
		cfg.RunID = runKey
		workers = append(workers, worker.New(
			queue,
			r.sessions,
			r.extractor,
			r.windows,
			state,
			stats,
			r.emitter,
			r.clock,
			cfg,
			r.logger.Named("worker"),
		))
	}
	return dispatcher.New(queue, workers).Run(ctx, entities)
}

func (r *Runner) flush(ctx context.Context, logger *zap.Logger, records []crawler.Observation) error {
	if err := r.store.Append(ctx, records); err != nil {
		logger.Error("checkpoint flush failed; results of this run are not durable",
			zap.Int("records", len(records)),
			zap.Error(err),
		)
		return fmt.Errorf("flush checkpoints: %w", err)
	}
	logger.Info("checkpoint flush complete", zap.Int("records", len(records)))
	return nil
}

func (r *Runner) export(ctx context.Context, logger *zap.Logger, runID string, rows []crawler.Observation) {
	for _, exporter := range r.exporters {
		if err := exporter.Export(ctx, runID, rows); err != nil {
			logger.Warn("export failed", zap.String("exporter", exporter.Name()), zap.Error(err))
			continue
		}
		logger.Info("export complete", zap.String("exporter", exporter.Name()), zap.Int("rows", len(rows)))
	}
}

func (r *Runner) emit(runKey [16]byte, evt progress.Event) {
	evt.RunID = runKey
	evt.TS = r.clock.Now().UTC()
	r.emitter.Emit(evt)
}
