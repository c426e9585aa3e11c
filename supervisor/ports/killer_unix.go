//go:build unix

package ports

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// unixKiller discovers listeners with lsof and signals them directly.
type unixKiller struct{}

func newPlatformKiller() Killer { return unixKiller{} }

// parsePIDLines parses one PID per line, skipping blanks and junk.
func parsePIDLines(out string) []int {
	var pids []int
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

func (unixKiller) ListPIDs(ctx context.Context, port int) ([]int, error) {
	cmd := exec.CommandContext(ctx, "lsof", "-ti", fmt.Sprintf("tcp:%d", port), "-sTCP:LISTEN")
	out, err := cmd.Output()
	if err != nil {
		// lsof exits non-zero when nothing matches; treat that as empty.
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof on port %d: %w", port, err)
	}
	return parsePIDLines(string(out)), nil
}

func (unixKiller) CommandLine(ctx context.Context, pid int) (string, error) {
	cmd := exec.CommandContext(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "command=")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("ps for pid %d: %w", pid, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (unixKiller) ListByPattern(ctx context.Context, pattern string) ([]int, error) {
	cmd := exec.CommandContext(ctx, "pgrep", "-f", pattern)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return nil, nil // no matches
		}
		return nil, fmt.Errorf("pgrep %q: %w", pattern, err)
	}
	return parsePIDLines(string(out)), nil
}

// The lsof socket join is authoritative here, so sweeps stay port-scoped.
func (unixKiller) PatternFallback() bool { return false }

func (unixKiller) Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

func (unixKiller) ForceKill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGKILL)
}

func (unixKiller) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
