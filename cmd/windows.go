package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/mse-history-crawler/internal/report"
)

// newWindowsCmd creates the 'windows' subcommand.
func newWindowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "Print the backfill and fallback windows for today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			enum, err := buildEnumerator(appInstance.cfg)
			if err != nil {
				return err
			}
			now := nowFunc()
			today := enum.Today(now)
			out := cmd.OutOrStdout()
			report.Windows(out, "backfill", enum.Backfill(), today)
			report.Windows(out, "fallback", enum.Fallback(now), time.Time{})
			return nil
		},
	}
}

// nowFunc is swapped in tests.
var nowFunc = time.Now
