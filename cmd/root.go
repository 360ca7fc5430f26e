package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mse-history-crawler/internal/config"
	"github.com/JakeFAU/mse-history-crawler/internal/logging"
	"github.com/JakeFAU/mse-history-crawler/internal/runner"
)

// Exit codes returned by Execute.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app carries the loaded configuration and logger to subcommands.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

func (a *app) Close() {
	// Sync fails on terminals; nothing useful to do with the error.
	_ = a.logger.Sync()
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &app{cfg: cfg, logger: logger}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "historycrawler",
		Short: "Incremental price-history crawler for the Macedonian Stock Exchange.",
		Long: `historycrawler walks every listed issuer's trading history on the exchange
website window by window, appending new rows to a CSV file that doubles as the
checkpoint, so an interrupted crawl resumes where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars use the HISTORY_ prefix")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newWindowsCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	appInstance, ok := ctx.Value(appKey).(*app)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	return exitCode(root.ExecuteContext(ctx))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, runner.ErrInterrupted):
		fmt.Fprintln(os.Stderr, "crawl interrupted; progress saved")
		return ExitInterrupted
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitFailure
	}
}
