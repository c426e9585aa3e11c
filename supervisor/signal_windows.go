//go:build windows

package supervisor

import "os"

// terminate asks a process to exit gracefully. Windows has no deliverable
// termination signal for arbitrary child processes (os.Process.Signal is
// unimplemented beyond Kill), so this always errors and callers escalate to
// Kill without waiting out the grace period.
func terminate(p *os.Process) error {
	return p.Signal(os.Interrupt)
}
