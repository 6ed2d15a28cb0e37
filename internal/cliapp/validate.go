package cliapp

import (
	"fmt"
	"os"

	"github.com/libreqos/lqosd/internal/loader"
)

// Validate implements `lqosd validate`: parse topology and subscriber
// input without planning, compiling, or touching the kernel, surfacing
// the first validation failure exactly as a full reload would see it.
func (a *App) Validate(topologyPath, subscribersPath string) error {
	topoRaw, err := os.ReadFile(topologyPath)
	if err != nil {
		return fmt.Errorf("cliapp: read topology: %w", err)
	}
	if _, err := loader.LoadTopology(topoRaw); err != nil {
		return fmt.Errorf("cliapp: topology invalid: %w", err)
	}

	subFile, err := os.Open(subscribersPath)
	if err != nil {
		return fmt.Errorf("cliapp: open subscribers: %w", err)
	}
	defer subFile.Close()

	subs, err := loader.LoadSubscribers(subFile, a.Cfg)
	if err != nil {
		return fmt.Errorf("cliapp: subscribers invalid: %w", err)
	}

	a.Log.Info("validation passed", "circuits", len(subs.Circuits))
	return nil
}
