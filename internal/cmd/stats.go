package cmd

import (
	"context"
	"fmt"

	"github.com/libreqos/lqosd/internal/cliapp"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Run a single stats-collection cycle against the compiled topology",
	Long:  `Run one scrape/compute/publish cycle, intended to be driven by an external cron rather than run continuously.`,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	app, err := cliapp.NewApp(configPath, dryRun, sudo, logLevel)
	if err != nil {
		return fmt.Errorf("cmd: build app: %w", err)
	}
	defer app.Close()

	return app.RunStatsOnce(context.Background())
}
