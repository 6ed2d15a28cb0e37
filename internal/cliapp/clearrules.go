package cliapp

import (
	"context"

	"github.com/libreqos/lqosd/internal/compiler"
)

// ClearRules implements `lqosd clearrules`: tears down every qdisc this
// system could have created on both interfaces and clears the XDP map,
// without touching persisted state (spec.md §4.4's teardown counterpart).
func (a *App) ClearRules(ctx context.Context) error {
	commands := compiler.ClearCommands(a.Cfg)
	if err := a.Exec.RunShellBatch(ctx, commands); err != nil {
		return err
	}
	return a.Exec.XDPClear(ctx)
}
