package cmd

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/mse-history-crawler/internal/clock/system"
	"github.com/JakeFAU/mse-history-crawler/internal/config"
	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
	"github.com/JakeFAU/mse-history-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/mse-history-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/mse-history-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/mse-history-crawler/internal/id/uuid"
	"github.com/JakeFAU/mse-history-crawler/internal/numfmt"
	"github.com/JakeFAU/mse-history-crawler/internal/progress"
	"github.com/JakeFAU/mse-history-crawler/internal/progress/sinks"
	"github.com/JakeFAU/mse-history-crawler/internal/runner"
	"github.com/JakeFAU/mse-history-crawler/internal/storage/gcs"
	"github.com/JakeFAU/mse-history-crawler/internal/storage/local"
	"github.com/JakeFAU/mse-history-crawler/internal/storage/postgres"
	"github.com/JakeFAU/mse-history-crawler/internal/window"
	"github.com/JakeFAU/mse-history-crawler/internal/worker"
)

// engine bundles the runner with everything that must be released after it.
type engine struct {
	runner   *runner.Runner
	registry *prometheus.Registry
	hub      *progress.Hub
	closers  []func()
}

// Close releases resources in reverse construction order.
func (e *engine) Close(ctx context.Context, logger *zap.Logger) {
	if e.hub != nil {
		if err := e.hub.Close(ctx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func buildEnumerator(cfg config.Config) (*window.Enumerator, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	enum, err := window.New(window.Config{
		BackfillStartYear: cfg.Windows.BackfillStartYear,
		BackfillYears:     cfg.Windows.BackfillYears,
		FromMonth:         time.Month(cfg.Windows.FromMonth),
		FromDay:           cfg.Windows.FromDay,
		ToMonth:           time.Month(cfg.Windows.ToMonth),
		ToDay:             cfg.Windows.ToDay,
		FallbackYears:     cfg.Windows.FallbackYears,
		Layout:            cfg.Windows.DateLayout,
		Location:          loc,
	})
	if err != nil {
		return nil, fmt.Errorf("init window enumerator: %w", err)
	}
	return enum, nil
}

func buildEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *engine, err error) {
	eng := &engine{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			eng.Close(ctx, logger)
		}
	}()

	enum, err := buildEnumerator(cfg)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := local.New(local.Config{Path: cfg.Checkpoint.Path}, logger)
	if err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}

	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		ListingURL:         cfg.Site.ListingURL,
		UserAgent:          cfg.Crawler.UserAgent,
		NavigationTimeout:  cfg.Headless.NavTimeout,
		InteractionTimeout: cfg.Crawler.InteractionTimeout,
		SearchQPS:          cfg.Crawler.SearchQPS,
		Selectors: headlessfetcher.Selectors{
			Entity:  cfg.Site.EntitySelector,
			From:    cfg.Site.FromSelector,
			To:      cfg.Site.ToSelector,
			Submit:  cfg.Site.SubmitSelector,
			Results: cfg.Site.ResultsSelector,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init headless browser: %w", err)
	}
	eng.closers = append(eng.closers, browser.Close)

	var lister crawler.EntityLister
	if cfg.Crawler.Discovery == config.DiscoveryHTTP {
		httpLister, err := collyfetcher.New(collyfetcher.Config{
			ListingURL:     cfg.Site.ListingURL,
			UserAgent:      cfg.Crawler.UserAgent,
			OptionSelector: cfg.Site.EntitySelector + " option",
			Timeout:        cfg.Headless.NavTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init http lister: %w", err)
		}
		lister = httpLister
	}

	exporters, err := buildExporters(ctx, cfg, store.Path(), eng, logger)
	if err != nil {
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(eng.registry)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	eng.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)

	workerCfg := worker.Config{
		MaxAttempts: cfg.Crawler.MaxAttempts,
		RetryDelay:  cfg.Crawler.RetryDelay,
	}
	if cfg.Numeric.Normalize {
		workerCfg.Formatter = numfmt.New().Normalize
	}

	eng.runner = runner.New(
		browser,
		lister,
		extract.NewTableExtractor(cfg.Site.RowSelector),
		enum,
		store,
		exporters,
		eng.hub,
		system.New(loc),
		uuid.NewUUIDGenerator(),
		runner.Config{
			Concurrency: cfg.Crawler.Concurrency,
			Entities:    cfg.Crawler.Entities,
			Worker:      workerCfg,
		},
		logger,
	)
	return eng, nil
}

func buildExporters(
	ctx context.Context,
	cfg config.Config,
	artifact string,
	eng *engine,
	logger *zap.Logger,
) ([]crawler.Exporter, error) {
	var exporters []crawler.Exporter
	if cfg.DB.DSN != "" {
		pg, err := postgres.NewObservationStore(ctx, postgres.Config{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
		if err != nil {
			return nil, fmt.Errorf("init postgres export: %w", err)
		}
		eng.closers = append(eng.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		exporters = append(exporters, pg)
		logger.Info("postgres export enabled", zap.String("table", cfg.DB.Table))
	}
	if cfg.Storage.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		eng.closers = append(eng.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		gcsCfg := gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix}
		blobs, err := gcs.New(client, gcsCfg)
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		upload, err := gcs.NewArtifactExporter(blobs, artifact, gcsCfg)
		if err != nil {
			return nil, fmt.Errorf("init gcs export: %w", err)
		}
		exporters = append(exporters, upload)
		logger.Info("gcs export enabled", zap.String("bucket", cfg.Storage.GCSBucket))
	}
	return exporters, nil
}
