//go:build unix

package supervisor

import (
	"os"
	"syscall"
)

// terminate asks a process to exit gracefully.
func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
