package cmd

import (
	"context"
	"fmt"

	"github.com/libreqos/lqosd/internal/cliapp"
	"github.com/spf13/cobra"
)

var (
	reloadTopologyPath    string
	reloadSubscribersPath string
	reloadUpdateOnly      bool
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Plan and apply the full topology, or reconcile subscribers only with --updateonly",
	RunE:  runReload,
}

func init() {
	reloadCmd.Flags().StringVar(&reloadTopologyPath, "topology", "network.json", "path to the network topology file")
	reloadCmd.Flags().StringVar(&reloadSubscribersPath, "subscribers", "ShapedDevices.csv", "path to the subscriber/circuit CSV")
	reloadCmd.Flags().BoolVar(&reloadUpdateOnly, "updateonly", false, "reconcile the existing compiled structure instead of a full reload")
}

func runReload(cmd *cobra.Command, args []string) error {
	app, err := cliapp.NewApp(configPath, dryRun, sudo, logLevel)
	if err != nil {
		return fmt.Errorf("cmd: build app: %w", err)
	}
	defer app.Close()

	ctx := context.Background()
	if reloadUpdateOnly {
		net, err := app.IncrementalReload(ctx, reloadSubscribersPath)
		if err != nil {
			return err
		}
		app.Log.Info("reconcile complete", "circuits", len(net.CircuitsByID))
		return nil
	}

	net, err := app.FullReload(ctx, reloadTopologyPath, reloadSubscribersPath)
	if err != nil {
		return err
	}
	app.Log.Info("reload complete", "circuits", len(net.CircuitsByID))
	return nil
}
