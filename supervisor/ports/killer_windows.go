//go:build windows

package ports

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// windowsKiller joins netstat's socket table to PIDs and terminates with
// taskkill. The socket join is less reliable here than lsof on unix, so the
// zombie sweep leans on command-line pattern enumeration as a fallback.
type windowsKiller struct{}

func newPlatformKiller() Killer { return windowsKiller{} }

func (windowsKiller) ListPIDs(ctx context.Context, port int) ([]int, error) {
	out, err := exec.CommandContext(ctx, "netstat", "-ano", "-p", "tcp").Output()
	if err != nil {
		return nil, fmt.Errorf("netstat: %w", err)
	}

	needle := fmt.Sprintf(":%d", port)
	seen := make(map[int]bool)
	var pids []int
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "LISTENING") {
			continue
		}
		fields := strings.Fields(line)
		// Proto LocalAddress ForeignAddress State PID
		if len(fields) < 5 || !strings.HasSuffix(fields[1], needle) {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids, nil
}

func (windowsKiller) CommandLine(ctx context.Context, pid int) (string, error) {
	script := fmt.Sprintf("(Get-CimInstance Win32_Process -Filter \"ProcessId=%d\").CommandLine", pid)
	out, err := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script).Output()
	if err != nil {
		return "", fmt.Errorf("query command line for pid %d: %w", pid, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (windowsKiller) ListByPattern(ctx context.Context, pattern string) ([]int, error) {
	script := fmt.Sprintf(
		"Get-CimInstance Win32_Process | Where-Object { $_.CommandLine -like '*%s*' } | Select-Object -ExpandProperty ProcessId",
		strings.ReplaceAll(pattern, "'", ""))
	out, err := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script).Output()
	if err != nil {
		return nil, fmt.Errorf("enumerate processes matching %q: %w", pattern, err)
	}

	var pids []int
	for _, line := range strings.Split(string(out), "\n") {
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
	return pids, nil
}

// The netstat join misses processes often enough that sweeps also
// enumerate by command line here.
func (windowsKiller) PatternFallback() bool { return true }

func (windowsKiller) Terminate(pid int) error {
	// No SIGTERM equivalent; taskkill without /F requests a graceful close.
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid)).Run()
}

func (windowsKiller) ForceKill(pid int) error {
	return exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run()
}

func (windowsKiller) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	out, err := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/NH").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), strconv.Itoa(pid))
}
