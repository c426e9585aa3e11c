//go:build unix

package supervisor

import (
	"bufio"
	"io"
	"os/exec"
)

// attachOutput wires the sidecar's stdout and stderr into buf. On unix the
// pipes can be drained concurrently with scanner goroutines, so output is
// available line-by-line while the process runs. The returned start func
// must be called after cmd.Start; finish is a no-op because the scanners
// exit on their own when the pipes close.
func attachOutput(cmd *exec.Cmd, buf *LogBuffer) (start, finish func(), err error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, nil, err
	}

	scan := func(r io.ReadCloser, source string) {
		defer r.Close()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			buf.Append(source, scanner.Text())
		}
	}

	start = func() {
		go scan(stdout, "stdout")
		go scan(stderr, "stderr")
	}
	finish = func() {}
	return start, finish, nil
}
