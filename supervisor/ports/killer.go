package ports

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Killer is the per-OS-family strategy for discovering and terminating
// processes by port. Exactly one implementation is compiled in, selected by
// build tags.
type Killer interface {
	// ListPIDs returns the PIDs currently listening on port.
	ListPIDs(ctx context.Context, port int) ([]int, error)
	// CommandLine returns the launch command line of a PID, best effort.
	CommandLine(ctx context.Context, pid int) (string, error)
	// ListByPattern enumerates PIDs whose command line matches pattern.
	// Used on platforms where the socket-to-PID join is unreliable.
	ListByPattern(ctx context.Context, pattern string) ([]int, error)
	// PatternFallback reports whether zombie sweeps should enumerate by
	// command-line pattern in addition to the socket join, because the
	// join cannot be trusted on this platform.
	PatternFallback() bool
	// Terminate asks a process to exit.
	Terminate(pid int) error
	// ForceKill ends a process without ceremony.
	ForceKill(pid int) error
	// Alive reports whether a PID still refers to a running process.
	Alive(pid int) bool
}

// NewKiller returns the strategy for the current platform.
func NewKiller() Killer { return newPlatformKiller() }

// commandTimeout bounds every system-command invocation used for discovery
// so a hung utility cannot stall the supervisor.
const commandTimeout = 5 * time.Second

// SettleDelay is how long callers should wait after killing before
// re-probing a port; released listening sockets are not always immediately
// reusable.
const SettleDelay = 1 * time.Second

// KillProcessOnPort force-kills every process listening on port. Returns
// true if at least one process was signalled successfully.
func KillProcessOnPort(ctx context.Context, k Killer, port int, logger *slog.Logger) bool {
	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	pids, err := k.ListPIDs(cctx, port)
	if err != nil {
		logger.Warn("Failed to list PIDs on port", "port", port, "error", err)
		return false
	}

	killed := false
	for _, pid := range pids {
		if err := k.ForceKill(pid); err != nil {
			logger.Warn("Failed to kill process on port", "port", port, "pid", pid, "error", err)
			continue
		}
		logger.Info("Killed process on port", "port", port, "pid", pid)
		killed = true
	}
	return killed
}

// KillZombies force-kills leftover sidecar processes around port: PIDs that
// are not recognized by owned and whose command line matches signature.
// Processes that fail both tests are never touched. Returns true if anything
// was killed; callers should wait SettleDelay before re-probing the port.
//
// The sweep is a heuristic, and its scope differs by platform: where the
// socket-to-PID join is unreliable the strategy additionally enumerates
// processes by command-line pattern, which may catch orphans that are not
// actually bound to this port (and miss some that are). Where the join is
// reliable the sweep stays port-scoped, so a free port means nothing to
// kill; pattern enumeration runs there only when the join itself failed.
func KillZombies(ctx context.Context, k Killer, port int, signature string, owned func(pid int) bool, logger *slog.Logger) bool {
	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	pids, err := k.ListPIDs(cctx, port)
	if err != nil {
		logger.Warn("Zombie sweep could not list processes on port", "port", port, "error", err)
		pids = nil
	}
	if err != nil || k.PatternFallback() {
		patternPIDs, perr := k.ListByPattern(cctx, signature)
		if perr != nil {
			logger.Warn("Zombie sweep could not enumerate by pattern", "port", port, "error", perr)
		} else {
			seen := make(map[int]bool, len(pids))
			for _, pid := range pids {
				seen[pid] = true
			}
			for _, pid := range patternPIDs {
				if !seen[pid] {
					pids = append(pids, pid)
				}
			}
		}
	}

	killed := false
	for _, pid := range pids {
		if owned != nil && owned(pid) {
			continue
		}
		cmdline, err := k.CommandLine(cctx, pid)
		if err != nil || !strings.Contains(cmdline, signature) {
			// Not provably ours; leave it alone.
			continue
		}
		if err := k.ForceKill(pid); err != nil {
			logger.Warn("Failed to kill zombie sidecar", "port", port, "pid", pid, "error", err)
			continue
		}
		logger.Info("Killed zombie sidecar process", "port", port, "pid", pid)
		killed = true
	}
	return killed
}
