package cliapp

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/libreqos/lqosd/internal/audit"
	"github.com/libreqos/lqosd/internal/classid"
	"github.com/libreqos/lqosd/internal/compiler"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/loader"
)

// FullReload implements the default `lqosd reload` path (spec.md §4.1-
// §4.4): parse topology + subscribers from scratch, plan, assign class
// IDs, compile, and push the full command batch through the executor. On
// a validation failure it falls back to the last-known-good config when
// this is the first reload since the system booted (spec.md §4.1, §7
// ConfigInvalid, §8 scenario 6); otherwise it aborts and leaves whatever
// TC state is already live untouched.
func (a *App) FullReload(ctx context.Context, topologyPath, subscribersPath string) (*domain.Network, error) {
	topoRaw, csvRaw, net, subs, err := a.loadAndValidate(topologyPath, subscribersPath)
	if err != nil {
		return a.fallbackToLastGood(ctx, err)
	}
	return a.planCompileApply(ctx, net, subs, topoRaw, csvRaw, "reload")
}

// loadAndValidate reads and parses the topology and subscriber inputs
// without mutating any live state, so FullReload and fallbackToLastGood
// can share the same validation path on different input bytes.
func (a *App) loadAndValidate(topologyPath, subscribersPath string) ([]byte, []byte, *domain.Network, *loader.SubscriberLoadResult, error) {
	topoRaw, err := os.ReadFile(topologyPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("cliapp: read topology: %w", err)
	}
	net, err := loader.LoadTopology(topoRaw)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("cliapp: load topology: %w", err)
	}

	csvRaw, err := os.ReadFile(subscribersPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("cliapp: read subscribers: %w", err)
	}
	subs, err := loader.LoadSubscribers(bytes.NewReader(csvRaw), a.Cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("cliapp: load subscribers: %w", err)
	}
	return topoRaw, csvRaw, net, subs, nil
}

// planCompileApply runs the shared plan/assign/compile/apply/persist
// pipeline used by both a normal reload and a last-known-good fallback.
func (a *App) planCompileApply(ctx context.Context, net *domain.Network, subs *loader.SubscriberLoadResult, topoRaw, csvRaw []byte, kind string) (*domain.Network, error) {
	if err := a.Planner.Plan(ctx, net, subs.Circuits, subs.UnparentedWeight); err != nil {
		return nil, fmt.Errorf("cliapp: plan: %w", err)
	}

	classid.AssignQueues(net, net.QueuesAvailable)
	alloc := a.Reconciler.Allocator()
	classid.AssignClassIDs(net, alloc)

	result := compiler.Compile(net, a.Cfg)

	if err := a.Exec.XDPClear(ctx); err != nil {
		a.Log.WithError(err).ErrorContext(ctx, "xdp clear failed before full reload")
	}
	if err := a.Exec.RunShellBatch(ctx, result.Commands); err != nil {
		return nil, fmt.Errorf("cliapp: apply tc batch: %w", err)
	}
	for _, entry := range result.XDPEntries {
		if err := a.Exec.XDPAddEntry(ctx, entry); err != nil {
			a.Log.WithError(err).WarnContext(ctx, "xdp add entry failed", "ip", entry.IP)
		}
	}

	if err := a.Store.SaveLastLoadedCSV(csvRaw); err != nil {
		a.Log.WithError(err).ErrorContext(ctx, "persist last loaded csv failed")
	}
	if err := a.Store.SaveLastGoodConfig(csvRaw, topoRaw); err != nil {
		a.Log.WithError(err).ErrorContext(ctx, "persist last-known-good config failed")
	}
	if err := a.Store.SaveQueuingStructure(net); err != nil {
		a.Log.WithError(err).ErrorContext(ctx, "persist queuing structure failed")
	}
	if err := a.Store.SaveAllocatorState(alloc.Snapshot()); err != nil {
		a.Log.WithError(err).ErrorContext(ctx, "persist allocator state failed")
	}
	now := time.Now()
	if err := a.Store.SaveLastRun(now); err != nil {
		a.Log.WithError(err).ErrorContext(ctx, "persist last run failed")
	}

	a.recordAudit(ctx, kind, fmt.Sprintf("%d circuits", len(net.CircuitsByID)))
	return net, nil
}

// fallbackToLastGood implements spec.md §7's ConfigInvalid recovery path:
// if this is the first reload attempt since the system booted, no live TC
// state from a prior run exists to protect, so it's safe to reparse and
// apply the last-known-good topology/subscriber snapshot instead of
// aborting. On any later boot it aborts and leaves live state untouched.
func (a *App) fallbackToLastGood(ctx context.Context, cause error) (*domain.Network, error) {
	a.Log.WithError(cause).ErrorContext(ctx, "reload input invalid")

	firstBoot, err := a.isFirstBootSinceLastRun()
	if err != nil {
		a.Log.WithError(err).WarnContext(ctx, "could not determine system boot time, aborting reload")
		return nil, cause
	}
	if !firstBoot {
		a.Log.ErrorContext(ctx, "not first reload since boot, aborting, live TC state left untouched")
		return nil, cause
	}

	csvRaw, topoRaw, err := a.Store.LoadLastGoodConfig()
	if err != nil {
		a.Log.WithError(err).ErrorContext(ctx, "no last-known-good config to fall back to, aborting")
		return nil, cause
	}

	net, err := loader.LoadTopology(topoRaw)
	if err != nil {
		return nil, fmt.Errorf("cliapp: last-known-good topology is itself invalid: %w", err)
	}
	subs, err := loader.LoadSubscribers(bytes.NewReader(csvRaw), a.Cfg)
	if err != nil {
		return nil, fmt.Errorf("cliapp: last-known-good subscribers are themselves invalid: %w", err)
	}

	a.Log.WarnContext(ctx, "first reload since boot, falling back to last-known-good config", "circuits", len(subs.Circuits))
	return a.planCompileApply(ctx, net, subs, topoRaw, csvRaw, "fallback")
}

// isFirstBootSinceLastRun reports whether the system has rebooted since
// the last successful reload completed (spec.md §7 ConfigInvalid).
func (a *App) isFirstBootSinceLastRun() (bool, error) {
	uptime, err := readSystemUptime()
	if err != nil {
		return false, err
	}
	bootTime := time.Now().Add(-uptime)

	lastRun, err := a.Store.LoadLastRun()
	if err != nil {
		return true, nil
	}
	return bootTime.After(lastRun), nil
}

// readSystemUptime reads the kernel's uptime counter from /proc/uptime,
// whose first whitespace-separated field is seconds-since-boot.
func readSystemUptime() (time.Duration, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, fmt.Errorf("cliapp: read /proc/uptime: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("cliapp: malformed /proc/uptime")
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("cliapp: parse /proc/uptime: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (a *App) recordAudit(ctx context.Context, kind, detail string) {
	if a.Audit == nil {
		return
	}
	if err := a.Audit.Record(ctx, []audit.Entry{{Kind: kind, Detail: detail, At: time.Now()}}); err != nil {
		a.Log.WithError(err).WarnContext(ctx, "audit record failed", "kind", kind)
	}
}
