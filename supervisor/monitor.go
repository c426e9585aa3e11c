package supervisor

import (
	"context"
	"log/slog"
	"time"
)

// ProbeFunc reports whether host:port is free to bind. The production
// implementation is ports.IsPortFree; tests substitute a fake.
type ProbeFunc func(host string, port int) (bool, error)

// awaitStartup polls a freshly launched sidecar until it binds its port,
// exits, or the check budget runs out. The port becoming unavailable is the
// only positive readiness signal; no health request is made here.
//
// Terminal outcomes: nil when the port is bound, a StartupError when the
// sidecar exited or never bound (the sidecar is killed in the latter case),
// or the context error when the attempt was cancelled. On cancellation the
// caller is responsible for tearing down the sidecar.
func awaitStartup(ctx context.Context, project string, sc Sidecar, host string, port int, probe ProbeFunc, maxChecks int, delay time.Duration, logger *slog.Logger) error {
	for check := 0; check < maxChecks; check++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sc.Done():
			// Exited before binding. Output capture is complete once Done
			// is closed, so classify what we have.
			stdout, stderr := sc.Output()
			msg := ClassifyOutput(stdout, stderr)
			logger.Error("Sidecar exited during startup",
				"project", project,
				"pid", sc.PID(),
				"error", msg,
				"exitErr", sc.ExitErr())
			return &StartupError{Project: project, Message: msg, Err: sc.ExitErr()}
		default:
		}

		free, err := probe(host, port)
		if err != nil {
			// Transient probe failure; the next tick re-checks.
			logger.Warn("Port probe failed during startup verification",
				"project", project, "port", port, "error", err)
		} else if !free {
			logger.Info("Sidecar bound its port",
				"project", project, "port", port, "pid", sc.PID(), "checks", check+1)
			return nil
		}

		if tail := recentLines(sc.Buffer(), 3); len(tail) > 0 {
			logger.Debug("Sidecar startup output",
				"project", project, "lines", tail)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-sc.Done():
			timer.Stop()
			// Loop around so the exit branch captures output and classifies.
		case <-timer.C:
		}
	}

	// Budget exhausted; the child is still running but never bound. Kill it
	// and give the output capture a moment to settle before classifying.
	logger.Error("Sidecar did not bind within the startup budget",
		"project", project, "port", port, "pid", sc.PID(), "checks", maxChecks)
	if err := sc.Kill(); err != nil {
		logger.Warn("Failed to kill unresponsive sidecar",
			"project", project, "pid", sc.PID(), "error", err)
	}
	select {
	case <-sc.Done():
	case <-time.After(2 * time.Second):
	}
	stdout, stderr := sc.Output()
	return &StartupError{Project: project, Message: ClassifyOutput(stdout, stderr)}
}

// recentLines returns the text of the last n buffered output lines.
func recentLines(buf *LogBuffer, n int) []string {
	lines := buf.Lines()
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, line.Text)
	}
	return out
}
