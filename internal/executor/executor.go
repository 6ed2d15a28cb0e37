// Package executor is the only component permitted to touch the host
// (spec.md §4.5): it runs tc/XDP commands and is the sole consumer of
// the compiler's output. Every other package in this module is pure
// over in-memory state.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/libreqos/lqosd/internal/compiler"
	"github.com/libreqos/lqosd/pkg/logger"
)

// kernel-error sentinel strings tc/iproute2 prints on rejected commands
// (spec.md §4.4, §7 KernelRejected).
var kernelErrorSentinels = []string{
	"RTNETLINK answers",
	"We have an error talking to the kernel",
}

// Privilege models the escalation capability an Executor runs shell
// commands with — a capability, not a string-prefix rewrite (spec.md §9
// design note).
type Privilege int

const (
	// PrivilegeNone runs commands as the current user.
	PrivilegeNone Privilege = iota
	// PrivilegeSudo prepends "sudo" to every shell invocation.
	PrivilegeSudo
)

// Executor is the abstract contract from spec.md §4.5.
type Executor interface {
	RunShell(ctx context.Context, cmd string) (exitCode int, stdout string, err error)
	RunShellBatch(ctx context.Context, commands []string) error
	XDPClear(ctx context.Context) error
	XDPAddEntry(ctx context.Context, entry compiler.XDPEntry) error
	XDPDelEntry(ctx context.Context, ip string) error
}

// Shell is the real Executor, invoking tc and the XDP command-line tool.
type Shell struct {
	Privilege Privilege
	DryRun    bool
	XDPTool   string
	BatchFile string

	log *logger.Logger
}

// New returns a Shell executor. xdpTool defaults to
// "xdp_iphash_to_cpu_cmdline" and batchFile to a temp file path when
// empty.
func New(priv Privilege, dryRun bool, xdpTool, batchFile string, log *logger.Logger) *Shell {
	if xdpTool == "" {
		xdpTool = "xdp_iphash_to_cpu_cmdline"
	}
	if batchFile == "" {
		batchFile = "/tmp/lqos-tc-batch.txt"
	}
	return &Shell{Privilege: priv, DryRun: dryRun, XDPTool: xdpTool, BatchFile: batchFile, log: log.WithComponent("executor")}
}

// RunShell runs a single non-batched command, per-command mode (spec.md
// §4.5): a kernel-rejection here is fatal for the reload.
func (s *Shell) RunShell(ctx context.Context, cmd string) (int, string, error) {
	if s.DryRun {
		s.log.InfoContext(ctx, "dry-run shell command", "cmd", cmd)
		return 0, "", nil
	}

	name, args := s.wrap("sh", "-c", cmd)
	out, exitCode, err := run(ctx, name, args...)
	if isKernelError(out) {
		s.log.KernelRejected(ctx, cmd, out, true)
		if err == nil {
			err = fmt.Errorf("executor: kernel rejected command %q: %s", cmd, out)
		}
	}
	return exitCode, out, err
}

// RunShellBatch writes commands to BatchFile and invokes `tc -b -f
// <file>`. The -f flag continues past individual command errors; those
// surface as warnings in the captured output rather than aborting the
// batch (spec.md §4.4 execution protocol).
func (s *Shell) RunShellBatch(ctx context.Context, commands []string) error {
	if len(commands) == 0 {
		return nil
	}

	body := strings.Join(commands, "\n") + "\n"
	if s.DryRun {
		s.log.InfoContext(ctx, "dry-run tc batch", "commands", len(commands))
		return nil
	}

	if err := os.WriteFile(s.BatchFile, []byte(body), 0o600); err != nil {
		return fmt.Errorf("executor: write batch file: %w", err)
	}

	name, args := s.wrap("tc", "-b", "-f", s.BatchFile)
	out, _, err := run(ctx, name, args...)
	if isKernelError(out) {
		s.log.KernelRejected(ctx, "tc -b -f "+s.BatchFile, out, false)
	}
	if err != nil {
		return fmt.Errorf("executor: tc batch apply: %w (output: %s)", err, out)
	}
	return nil
}

// XDPClear invokes "--clear". Errors are logged but non-fatal for
// individual entries per spec.md §4.4, but a clear failure on a full
// reload's setup step is returned so the caller can decide.
func (s *Shell) XDPClear(ctx context.Context) error {
	return s.xdp(ctx, "--clear")
}

// XDPAddEntry invokes "--add --ip <ip> --cpu <hex> --classid <M:m>".
func (s *Shell) XDPAddEntry(ctx context.Context, e compiler.XDPEntry) error {
	return s.xdp(ctx, "--add", "--ip", e.IP, "--cpu", fmt.Sprintf("%x", e.CPU), "--classid", e.ClassID)
}

// XDPDelEntry invokes "--del --ip <ip>".
func (s *Shell) XDPDelEntry(ctx context.Context, ip string) error {
	return s.xdp(ctx, "--del", "--ip", ip)
}

func (s *Shell) xdp(ctx context.Context, args ...string) error {
	if s.DryRun {
		s.log.InfoContext(ctx, "dry-run xdp command", "args", args)
		return nil
	}
	name, fullArgs := s.wrap(s.XDPTool, args...)
	out, _, err := run(ctx, name, fullArgs...)
	if err != nil {
		s.log.WithError(err).WarnContext(ctx, "xdp command failed", "args", args, "output", out)
		return fmt.Errorf("executor: xdp %v: %w", args, err)
	}
	return nil
}

// wrap prefixes the command with sudo when Privilege requires it.
func (s *Shell) wrap(name string, args ...string) (string, []string) {
	if s.Privilege == PrivilegeSudo {
		return "sudo", append([]string{name}, args...)
	}
	return name, args
}

func run(ctx context.Context, name string, args ...string) (stdout string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err = cmd.Run()
	stdout = buf.String()
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return stdout, exitCode, err
}

func isKernelError(output string) bool {
	for _, sentinel := range kernelErrorSentinels {
		if strings.Contains(output, sentinel) {
			return true
		}
	}
	return false
}
