package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mse-history-crawler/internal/api"
	"github.com/JakeFAU/mse-history-crawler/internal/report"
)

const closeTimeout = 10 * time.Second

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every listed entity's history into the checkpoint CSV",
		Long: `Discovers the listed entities, skips windows already recorded in the
checkpoint CSV, fetches the rest with retries, and appends the new rows once at
the end. An interrupt stops the crawl, still saves the gathered rows, and exits
with status 130.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := appInstance.logger

	eng, err := buildEngine(ctx, appInstance.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		eng.Close(closeCtx, logger)
	}()

	var server *api.Server
	if addr := appInstance.cfg.Server.ListenAddr; addr != "" {
		server, err = api.NewServer(eng.runner, eng.registry, eng.registry, logger)
		if err != nil {
			return fmt.Errorf("init status server: %w", err)
		}
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	var g errgroup.Group
	if server != nil {
		g.Go(func() error {
			if err := server.Serve(serverCtx, appInstance.cfg.Server.ListenAddr); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
			return nil
		})
	}

	summary, runErr := eng.runner.Run(ctx)
	stopServer()
	_ = g.Wait()

	if summary.RunID != "" {
		report.RunSummary(cmd.OutOrStdout(), summary)
	}
	if runErr != nil {
		return runErr
	}
	if summary.FlushErr != nil {
		return fmt.Errorf("flush checkpoint: %w", summary.FlushErr)
	}
	logger.Info("crawl command finished")
	return nil
}
