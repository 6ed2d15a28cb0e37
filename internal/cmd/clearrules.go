package cmd

import (
	"context"
	"fmt"

	"github.com/libreqos/lqosd/internal/cliapp"
	"github.com/spf13/cobra"
)

var clearRulesCmd = &cobra.Command{
	Use:   "clearrules",
	Short: "Tear down every qdisc and XDP entry this system manages",
	RunE:  runClearRules,
}

func runClearRules(cmd *cobra.Command, args []string) error {
	app, err := cliapp.NewApp(configPath, dryRun, sudo, logLevel)
	if err != nil {
		return fmt.Errorf("cmd: build app: %w", err)
	}
	defer app.Close()

	return app.ClearRules(context.Background())
}
