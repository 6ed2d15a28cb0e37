package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/libreqos/lqosd/internal/cliapp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the periodic stats collector and the read-only status API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := cliapp.NewApp(configPath, dryRun, sudo, logLevel)
	if err != nil {
		return fmt.Errorf("cmd: build app: %w", err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		app.Log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	return app.Serve(ctx)
}
