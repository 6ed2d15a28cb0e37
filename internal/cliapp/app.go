// Package cliapp wires the core pipeline packages (loader, planner,
// classid, compiler, executor, reconciler, statscollector, persistence,
// audit) into the subcommands documented in SPEC_FULL.md §2.3, in the
// style of the teacher's internal/cmd package: one small file per
// subcommand sharing state built once by NewApp.
package cliapp

import (
	"fmt"
	"os"

	"github.com/libreqos/lqosd/internal/audit"
	"github.com/libreqos/lqosd/internal/audit/postgres"
	"github.com/libreqos/lqosd/internal/audit/sqlite"
	"github.com/libreqos/lqosd/internal/classid"
	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/executor"
	"github.com/libreqos/lqosd/internal/netdisc"
	"github.com/libreqos/lqosd/internal/persistence"
	"github.com/libreqos/lqosd/internal/planner"
	"github.com/libreqos/lqosd/internal/publisher"
	"github.com/libreqos/lqosd/internal/reconciler"
	"github.com/libreqos/lqosd/pkg/logger"
)

// App bundles everything a subcommand needs: configuration, the
// persistence store, the optional audit history store, and the
// executor every mutating subcommand drives.
type App struct {
	Cfg   *config.Config
	Log   *logger.Logger
	Store *persistence.Store
	Audit audit.Store
	Exec  executor.Executor

	Planner     *planner.Planner
	Reconciler  *reconciler.Reconciler
	Publisher   publisher.Publisher
}

// NewApp loads configuration from configPath (or built-in defaults when
// empty), and constructs every long-lived dependency a subcommand needs.
// dryRun and sudo come from CLI flags and override nothing in the config
// file — they're runtime overrides for the executor alone.
func NewApp(configPath string, dryRun, sudo bool, logLevel string) (*App, error) {
	var cfg *config.Config
	var err error
	if configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("cliapp: load config: %w", err)
		}
	}

	log := logger.New(logLevel)
	store := persistence.New(cfg)

	auditStore, err := newAuditStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("cliapp: audit store: %w", err)
	}

	priv := executor.PrivilegeNone
	if sudo || cfg.RunShellCommandsAsSudo {
		priv = executor.PrivilegeSudo
	}
	shell := executor.New(priv, dryRun || !cfg.EnableActualShellCommands, "", "", log)

	disc := netdisc.QueueDiscoverer(netdisc.NewRTNetlinkDiscoverer())
	if os.Getenv("LQOSD_NETDISC") == "static" {
		disc = &netdisc.StaticDiscoverer{}
	}

	alloc, err := loadAllocator(store)
	if err != nil {
		return nil, fmt.Errorf("cliapp: load allocator state: %w", err)
	}

	return &App{
		Cfg:        cfg,
		Log:        log,
		Store:      store,
		Audit:      auditStore,
		Exec:       shell,
		Planner:    planner.New(cfg, disc, log),
		Reconciler: reconciler.New(cfg, alloc, log),
		Publisher:  publisher.NewHTTPPublisher(cfg.TimeSeries),
	}, nil
}

// newAuditStore selects the audit.Store backend named by cfg.Audit.Backend,
// or audit.NoopStore when auditing is disabled. This factory lives here
// rather than in package audit itself to avoid a cycle: both backend
// packages import audit for the Entry/Store types.
func newAuditStore(cfg *config.Config) (audit.Store, error) {
	if !cfg.Audit.Enabled {
		return audit.NoopStore{}, nil
	}
	switch cfg.Audit.Backend {
	case "sqlite":
		return sqlite.Open(cfg.Audit.SQLite)
	case "postgres":
		return postgres.Open(cfg.Audit.Postgres)
	default:
		return nil, fmt.Errorf("cliapp: unknown audit.backend %q", cfg.Audit.Backend)
	}
}

// loadAllocator restores the persisted Class-ID Allocator state, or
// starts a fresh one on first boot (spec.md §4.3).
func loadAllocator(store *persistence.Store) (*classid.Allocator, error) {
	state, err := store.LoadAllocatorState()
	if err != nil {
		if os.IsNotExist(err) {
			return classid.New(), nil
		}
		return nil, err
	}
	return classid.Restore(state), nil
}

// Close releases the audit store's connection, if any.
func (a *App) Close() error {
	return a.Audit.Close()
}
