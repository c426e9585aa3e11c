package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Sidecar is a handle to one launched helper process.
type Sidecar interface {
	PID() int
	// Done is closed once the process has exited and its output capture is
	// complete.
	Done() <-chan struct{}
	// ExitErr returns the process exit error; valid only after Done.
	ExitErr() error
	// Terminate asks the process to exit gracefully.
	Terminate() error
	// Kill ends the process immediately.
	Kill() error
	// Buffer exposes the captured output for diagnostics and classification.
	Buffer() *LogBuffer
	// Output returns the captured stdout and stderr text.
	Output() (stdout, stderr string)
}

// LaunchSpec describes a sidecar invocation.
type LaunchSpec struct {
	Executable string
	Args       []string
	ExtraEnv   []string // KEY=VALUE pairs appended to the host environment
	WorkDir    string
}

// Launcher starts sidecar processes. The production implementation wraps
// os/exec; tests substitute a fake.
type Launcher interface {
	Launch(spec LaunchSpec) (Sidecar, error)
}

// ExecLauncher launches real processes with platform-appropriate output
// capture: non-blocking pipe scanners where the platform allows them, a
// temp-file side channel where it does not.
type ExecLauncher struct {
	Logger *slog.Logger
}

type execSidecar struct {
	cmd    *exec.Cmd
	buf    *LogBuffer
	done   chan struct{}
	finish func()

	mu      sync.Mutex
	exitErr error
}

// Launch starts the sidecar and begins capturing its output. The child
// inherits the host environment plus spec.ExtraEnv; no other environment
// mutation happens here.
func (l *ExecLauncher) Launch(spec LaunchSpec) (Sidecar, error) {
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Env = append(os.Environ(), spec.ExtraEnv...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}

	sc := &execSidecar{
		cmd:  cmd,
		buf:  NewLogBuffer(outputBufferLines),
		done: make(chan struct{}),
	}

	start, finish, err := attachOutput(cmd, sc.buf)
	if err != nil {
		return nil, fmt.Errorf("attach output capture: %w", err)
	}
	sc.finish = finish

	if err := cmd.Start(); err != nil {
		finish()
		return nil, fmt.Errorf("start sidecar %s: %w", spec.Executable, err)
	}
	start()

	go func() {
		err := cmd.Wait()
		sc.finish()
		sc.mu.Lock()
		sc.exitErr = err
		sc.mu.Unlock()
		close(sc.done)
	}()

	return sc, nil
}

// outputBufferLines bounds per-sidecar output retention.
const outputBufferLines = 500

func (s *execSidecar) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *execSidecar) Done() <-chan struct{} { return s.done }

func (s *execSidecar) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

func (s *execSidecar) Terminate() error {
	if s.cmd.Process == nil {
		return nil
	}
	return terminate(s.cmd.Process)
}

func (s *execSidecar) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

func (s *execSidecar) Buffer() *LogBuffer { return s.buf }

func (s *execSidecar) Output() (string, string) { return s.buf.Text() }
