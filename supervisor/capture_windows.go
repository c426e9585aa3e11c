//go:build windows

package supervisor

import (
	"bufio"
	"os"
	"os/exec"
)

// attachOutput wires the sidecar's stdout and stderr into buf. Blocking pipe
// reads are not interruptible on windows, so the streams are redirected to
// temporary files instead and folded into the buffer once the process has
// exited (or the poll loop gives up and kills it). Diagnostics are therefore
// not available line-by-line while the process runs, only afterwards.
func attachOutput(cmd *exec.Cmd, buf *LogBuffer) (start, finish func(), err error) {
	stdoutFile, err := os.CreateTemp("", "mcphost-sidecar-stdout-*")
	if err != nil {
		return nil, nil, err
	}
	stderrFile, err := os.CreateTemp("", "mcphost-sidecar-stderr-*")
	if err != nil {
		stdoutFile.Close()
		os.Remove(stdoutFile.Name())
		return nil, nil, err
	}

	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	drain := func(f *os.File, source string) {
		defer os.Remove(f.Name())
		defer f.Close()
		if _, err := f.Seek(0, 0); err != nil {
			return
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			buf.Append(source, scanner.Text())
		}
	}

	start = func() {}
	finish = func() {
		drain(stdoutFile, "stdout")
		drain(stderrFile, "stderr")
	}
	return start, finish, nil
}
