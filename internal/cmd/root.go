// Package cmd wires the cobra CLI surface onto internal/cliapp.App
// (SPEC_FULL.md §2.3), one file per subcommand, adapted from the
// teacher's internal/cmd layout.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dryRun     bool
	sudo       bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:     "lqosd",
	Short:   "Bandwidth shaper control plane",
	Long:    `lqosd compiles a subscriber topology and per-circuit bandwidth limits into tc/XDP state and serves read-only status over HTTP.`,
	Version: "1.0.0",
	RunE:    runReload,
}

// Execute runs the root command; it's the sole entry point main calls.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (defaults built in if omitted)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log shell/XDP actions instead of executing them")
	rootCmd.PersistentFlags().BoolVar(&sudo, "sudo", false, "prefix shell commands with sudo")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "v", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(clearRulesCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lqosd version %s\n", rootCmd.Version)
	},
}
