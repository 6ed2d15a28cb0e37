package cmd

import (
	"fmt"

	"github.com/libreqos/lqosd/internal/cliapp"
	"github.com/spf13/cobra"
)

var (
	validateTopologyPath    string
	validateSubscribersPath string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse topology and subscriber input without applying anything",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateTopologyPath, "topology", "network.json", "path to the network topology file")
	validateCmd.Flags().StringVar(&validateSubscribersPath, "subscribers", "ShapedDevices.csv", "path to the subscriber/circuit CSV")
}

func runValidate(cmd *cobra.Command, args []string) error {
	app, err := cliapp.NewApp(configPath, dryRun, sudo, logLevel)
	if err != nil {
		return fmt.Errorf("cmd: build app: %w", err)
	}
	defer app.Close()

	return app.Validate(validateTopologyPath, validateSubscribersPath)
}
