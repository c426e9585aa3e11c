// Package supervisor starts, verifies, monitors and tears down one sidecar
// server process per project. It arbitrates TCP ports between projects,
// reaps leftover sidecar processes from earlier runs, serializes start/stop
// per project while letting different projects proceed in parallel, and
// supersedes an in-flight start when a newer request for the same project
// arrives.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/freewings463/mcphost/supervisor/ports"
)

// AuditLog records lifecycle events. Implemented by the audit package; all
// calls are best-effort and a failure never fails the supervisor operation.
type AuditLog interface {
	LogStartSucceeded(projectID string, port, pid int) error
	LogStartFailed(projectID string, port int, detail string) error
	LogStop(projectID string, port, pid int) error
	LogZombieSweep(projectID string, port int) error
	LogPortConflict(projectID string, port int, detail string) error
}

// Config holds the supervisor's collaborators and tuning knobs. Zero values
// get sensible defaults in New.
type Config struct {
	Logger   *slog.Logger
	Registry *Registry
	Launcher Launcher
	Killer   ports.Killer
	Probe    ProbeFunc
	Metrics  MetricsCollector
	Audit    AuditLog

	// Enabled gates every public operation. Nil means always enabled.
	Enabled func() bool

	// SidecarExecutable is the helper binary launched per project.
	SidecarExecutable string
	// ZombieSignature identifies this supervisor's own sidecars in foreign
	// process lists. Defaults to SidecarExecutable.
	ZombieSignature string

	MaxRetries       int           // start attempts per request (default 3)
	MaxStartupChecks int           // poll iterations per attempt (default 40)
	StartupDelay     time.Duration // interval between polls (default 2s)
	RetryDelay       time.Duration // cooldown between attempts (default 2s)
	StopGrace        time.Duration // graceful-exit window before kill (default 5s)
}

// Supervisor manages at most one live sidecar process per project on the
// local host.
type Supervisor struct {
	logger   *slog.Logger
	registry *Registry
	launcher Launcher
	killer   ports.Killer
	probe    ProbeFunc
	metrics  MetricsCollector
	audit    AuditLog
	enabled  func() bool

	executable string
	signature  string

	maxRetries       int
	maxStartupChecks int
	startupDelay     time.Duration
	retryDelay       time.Duration
	stopGrace        time.Duration
}

// New creates a supervisor, filling in defaults for any collaborator or
// knob the config leaves zero.
func New(config *Config) *Supervisor {
	if config == nil {
		config = &Config{}
	}
	s := &Supervisor{
		logger:           config.Logger,
		registry:         config.Registry,
		launcher:         config.Launcher,
		killer:           config.Killer,
		probe:            config.Probe,
		metrics:          config.Metrics,
		audit:            config.Audit,
		enabled:          config.Enabled,
		executable:       config.SidecarExecutable,
		signature:        config.ZombieSignature,
		maxRetries:       config.MaxRetries,
		maxStartupChecks: config.MaxStartupChecks,
		startupDelay:     config.StartupDelay,
		retryDelay:       config.RetryDelay,
		stopGrace:        config.StopGrace,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "supervisor")
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.launcher == nil {
		s.launcher = &ExecLauncher{Logger: s.logger}
	}
	if s.killer == nil {
		s.killer = ports.NewKiller()
	}
	if s.probe == nil {
		s.probe = ports.IsPortFree
	}
	if s.metrics == nil {
		s.metrics = NewNoopMetricsCollector()
	}
	if s.signature == "" {
		s.signature = s.executable
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 3
	}
	if s.maxStartupChecks <= 0 {
		s.maxStartupChecks = 40
	}
	if s.startupDelay <= 0 {
		s.startupDelay = 2 * time.Second
	}
	if s.retryDelay <= 0 {
		s.retryDelay = 2 * time.Second
	}
	if s.stopGrace <= 0 {
		s.stopGrace = 5 * time.Second
	}
	return s
}

// startSettings are the per-request tuning knobs.
type startSettings struct {
	maxRetries       int
	maxStartupChecks int
	startupDelay     time.Duration
}

// StartOption overrides a start request's retry or polling budget.
type StartOption func(*startSettings)

// WithMaxRetries overrides how many launch attempts a start request makes.
func WithMaxRetries(n int) StartOption {
	return func(set *startSettings) {
		if n > 0 {
			set.maxRetries = n
		}
	}
}

// WithStartupBudget overrides the per-attempt polling budget.
func WithStartupBudget(checks int, delay time.Duration) StartOption {
	return func(set *startSettings) {
		if checks > 0 {
			set.maxStartupChecks = checks
		}
		if delay > 0 {
			set.startupDelay = delay
		}
	}
}

func (s *Supervisor) isEnabled() bool {
	return s.enabled == nil || s.enabled()
}

// Start launches (or restarts) the sidecar for a project and waits until it
// has bound its port. The endpoint is the project's primary URL; the legacy
// SSE URL is derived from it.
//
// A newer Start for the same project supersedes an in-flight one: the older
// attempt is cancelled and awaited before this one proceeds. Starting an
// already-running project with unchanged settings is a no-op; with changed
// settings the running sidecar is stopped first. Configuration and
// port-conflict errors are terminal; other launch failures are retried.
func (s *Supervisor) Start(ctx context.Context, project, endpoint string, auth *AuthConfig, opts ...StartOption) error {
	if !s.isEnabled() {
		return &DisabledError{Project: project}
	}

	settings := startSettings{
		maxRetries:       s.maxRetries,
		maxStartupChecks: s.maxStartupChecks,
		startupDelay:     s.startupDelay,
	}
	for _, opt := range opts {
		opt(&settings)
	}

	// Supersede: cancel and await any in-flight start for this project
	// before proceeding. Most recent intent wins.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	previous, handle := s.registry.BeginStart(project, cancel)
	defer s.registry.FinishStart(project, handle)
	if previous != nil {
		s.logger.Info("Superseding in-flight start", "project", project)
		previous.cancel()
		<-previous.done
	}

	err := s.startLocked(ctx, project, endpoint, auth, settings)
	if err != nil {
		s.registry.SetLastError(project, err.Error())
		s.metrics.StartFailed(project, failureReason(err))
		s.recordStartFailure(project, auth, err)
	}
	return err
}

func (s *Supervisor) startLocked(ctx context.Context, project, endpoint string, auth *AuthConfig, settings startSettings) error {
	if s.executable == "" {
		return &ConfigurationError{Project: project, Reason: "sidecar executable is not configured"}
	}
	if err := auth.Validate(project); err != nil {
		return err
	}

	lock := s.registry.LockFor(project)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if entry, ok := s.registry.Entry(project); ok {
		if s.sidecarAlive(entry) {
			if !AuthConfigChanged(entry.Auth, auth) {
				s.logger.Info("Sidecar already running with unchanged settings",
					"project", project, "port", entry.Port, "pid", entry.PID)
				return nil
			}
			s.logger.Info("Sidecar settings changed, restarting",
				"project", project, "port", entry.Port)
			s.stopEntry(ctx, project, entry)
		} else {
			// The tracked process died on its own; drop the stale entry so
			// its port and pid claims do not block the new launch.
			s.logger.Warn("Tracked sidecar is no longer running, discarding stale entry",
				"project", project, "port", entry.Port, "pid", entry.PID)
			s.registry.Remove(project)
		}
	}

	s.sweepZombies(ctx, project, auth.Port)

	if err := s.ensurePortAvailable(ctx, project, auth.Host, auth.Port); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= settings.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 1 {
			if err := sleepCtx(ctx, s.retryDelay); err != nil {
				return err
			}
			s.sweepZombies(ctx, project, auth.Port)
		}

		err := s.launchOnce(ctx, project, endpoint, auth, settings)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.logger.Warn("Sidecar start attempt failed",
			"project", project, "attempt", attempt, "maxRetries", settings.maxRetries, "error", err)
	}
	return lastErr
}

// launchOnce runs a single launch attempt: spawn the sidecar, verify it
// binds its port, and on success install the registry entry.
func (s *Supervisor) launchOnce(ctx context.Context, project, endpoint string, auth *AuthConfig, settings startSettings) error {
	s.metrics.StartAttempted(project)

	primaryURL := endpoint
	legacyURL := strings.TrimSuffix(endpoint, "/") + "/sse"
	args := auth.CommandArgs(primaryURL, legacyURL)

	s.logger.Info("Launching sidecar",
		"project", project,
		"executable", s.executable,
		"args", RedactArgs(args),
		"host", auth.Host,
		"port", auth.Port)

	began := time.Now()
	sc, err := s.launcher.Launch(LaunchSpec{Executable: s.executable, Args: args})
	if err != nil {
		return &StartupError{Project: project, Message: "failed to launch sidecar", Err: err}
	}

	if err := awaitStartup(ctx, project, sc, auth.Host, auth.Port, s.probe, settings.maxStartupChecks, settings.startupDelay, s.logger); err != nil {
		// Whatever the failure, this attempt's child must not outlive it.
		// The monitor already kills on budget exhaustion and the exit branch
		// means the child is dead; a second kill is harmless.
		if killErr := sc.Kill(); killErr != nil {
			s.logger.Debug("Cleanup kill after failed attempt",
				"project", project, "pid", sc.PID(), "error", killErr)
		}
		return err
	}

	entry := &Entry{
		Project:    project,
		Sidecar:    sc,
		Host:       auth.Host,
		Port:       auth.Port,
		PrimaryURL: primaryURL,
		LegacyURL:  legacyURL,
		Auth:       auth,
		PID:        sc.PID(),
		LaunchID:   uuid.New().String(),
		StartedAt:  began,
	}
	s.registry.Put(entry)
	s.registry.ClearLastError(project)

	s.metrics.StartSucceeded(project, time.Since(began))
	s.metrics.SidecarsLive(len(s.registry.Projects()))
	if s.audit != nil {
		if err := s.audit.LogStartSucceeded(project, entry.Port, entry.PID); err != nil {
			s.logger.Warn("Failed to audit sidecar start", "project", project, "error", err)
		}
	}
	s.logger.Info("Sidecar started",
		"project", project,
		"port", entry.Port,
		"pid", entry.PID,
		"launchId", entry.LaunchID,
		"startupTime", time.Since(began))
	return nil
}

// ensurePortAvailable decides whether the requested port may be used,
// reclaimed or must be refused. It only ever kills processes tracked as this
// project's own; a port held by another live project or by an unrecognized
// process is a terminal conflict.
func (s *Supervisor) ensurePortAvailable(ctx context.Context, project, host string, port int) error {
	if port <= 0 || port > 65535 {
		return &ConfigurationError{Project: project, Reason: fmt.Sprintf("invalid port %d", port)}
	}

	free, err := s.probe(host, port)
	if err != nil {
		return &ConfigurationError{Project: project, Reason: fmt.Sprintf("cannot probe port %d on %s: %v", port, host, err)}
	}
	if free {
		return nil
	}

	owner, owned := s.registry.PortOwner(port)
	if owned && owner != project {
		if entry, ok := s.registry.Entry(owner); ok && s.sidecarAlive(entry) {
			return &PortConflictError{
				Project: project,
				Port:    port,
				Reason:  fmt.Sprintf("port is in use by project %s", owner),
			}
		}
		// The owner's tracked process has died; its claim is stale. Release
		// it, then re-probe: whatever still holds the socket is foreign.
		s.logger.Warn("Releasing stale port ownership",
			"port", port, "owner", owner)
		s.registry.Remove(owner)
		free, err = s.probe(host, port)
		if err == nil && free {
			return nil
		}
		return &PortConflictError{
			Project: project,
			Port:    port,
			Reason:  "port is held by an unrecognized process; refusing to kill it",
		}
	}

	if owned {
		// Owned by this project. A dead tracked process means a stale claim;
		// a live one is our own sidecar stuck mid-startup, which we may kill.
		if entry, ok := s.registry.Entry(project); !ok || !s.sidecarAlive(entry) {
			s.logger.Warn("Releasing this project's stale port ownership",
				"project", project, "port", port)
			s.registry.Remove(project)
			return nil
		}
		s.logger.Warn("Killing this project's stuck sidecar to reclaim its port",
			"project", project, "port", port)
		ports.KillProcessOnPort(ctx, s.killer, port, s.logger)
		s.registry.Remove(project)
		if err := sleepCtx(ctx, ports.SettleDelay); err != nil {
			return err
		}
		free, err = s.probe(host, port)
		if err == nil && free {
			return nil
		}
		return &PortConflictError{
			Project: project,
			Port:    port,
			Reason:  "port is still in use after reclaiming it",
		}
	}

	return &PortConflictError{
		Project: project,
		Port:    port,
		Reason:  "port is held by an unrecognized process; refusing to kill it",
	}
}

// sweepZombies is best-effort hygiene around a launch: leftover sidecars
// from a previous run or generation are killed if they match our signature
// and are not tracked. Failures are logged and swallowed.
func (s *Supervisor) sweepZombies(ctx context.Context, project string, port int) {
	if !ports.KillZombies(ctx, s.killer, port, s.signature, s.registry.OwnsPID, s.logger) {
		return
	}
	s.metrics.ZombieKilled(port)
	if s.audit != nil {
		if err := s.audit.LogZombieSweep(project, port); err != nil {
			s.logger.Warn("Failed to audit zombie sweep", "project", project, "error", err)
		}
	}
	// Give released sockets a moment before any re-probe.
	_ = sleepCtx(ctx, ports.SettleDelay)
}

// Stop terminates a project's sidecar, escalating from a graceful signal to
// a kill after the grace period. The registry entry and its port/pid
// ownership are released unconditionally, even when signalling fails or the
// process was already dead. Stopping a project with no entry is a no-op.
func (s *Supervisor) Stop(ctx context.Context, project string) error {
	if !s.isEnabled() {
		return &DisabledError{Project: project}
	}

	lock := s.registry.LockFor(project)
	lock.Lock()
	defer lock.Unlock()

	entry, ok := s.registry.Entry(project)
	if !ok {
		return nil
	}
	s.stopEntry(ctx, project, entry)
	return nil
}

// stopEntry does the actual teardown; callers hold the project lock.
func (s *Supervisor) stopEntry(ctx context.Context, project string, entry *Entry) {
	defer func() {
		s.registry.Remove(project)
		s.metrics.StopCompleted(project)
		s.metrics.SidecarsLive(len(s.registry.Projects()))
		if s.audit != nil {
			if err := s.audit.LogStop(project, entry.Port, entry.PID); err != nil {
				s.logger.Warn("Failed to audit sidecar stop", "project", project, "error", err)
			}
		}
	}()

	sc := entry.Sidecar
	if sc == nil {
		return
	}
	select {
	case <-sc.Done():
		s.logger.Info("Sidecar already exited", "project", project, "pid", entry.PID)
		return
	default:
	}

	s.logger.Info("Stopping sidecar", "project", project, "port", entry.Port, "pid", entry.PID)
	if err := sc.Terminate(); err != nil {
		// No graceful signal arrived, so waiting out the grace period
		// would be pointless.
		s.logger.Warn("Failed to signal sidecar, killing immediately",
			"project", project, "pid", entry.PID, "error", err)
	} else {
		grace := time.NewTimer(s.stopGrace)
		defer grace.Stop()
		select {
		case <-sc.Done():
			s.logger.Info("Sidecar exited gracefully", "project", project, "pid", entry.PID)
			return
		case <-ctx.Done():
		case <-grace.C:
			s.logger.Warn("Sidecar did not exit within grace period, killing",
				"project", project, "pid", entry.PID, "grace", s.stopGrace)
		}
	}

	if err := sc.Kill(); err != nil {
		s.logger.Error("Failed to kill sidecar",
			"project", project, "pid", entry.PID, "error", err)
		return
	}
	select {
	case <-sc.Done():
	case <-time.After(2 * time.Second):
		s.logger.Warn("Sidecar still reaping after kill", "project", project, "pid", entry.PID)
	}
}

// StopAll tears down every live sidecar. Used on host shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	for _, project := range s.registry.Projects() {
		if err := s.Stop(ctx, project); err != nil {
			s.logger.Warn("Failed to stop sidecar during shutdown",
				"project", project, "error", err)
		}
	}
}

// GetPort returns the bound port of a project's live sidecar. Lock-free
// read; absent when the project has no running sidecar or the subsystem is
// disabled.
func (s *Supervisor) GetPort(project string) (int, bool) {
	if !s.isEnabled() {
		return 0, false
	}
	return s.registry.Port(project)
}

// GetLastError returns the diagnostic from the project's most recent
// terminal start failure. Cleared on successful start.
func (s *Supervisor) GetLastError(project string) (string, bool) {
	if !s.isEnabled() {
		return "", false
	}
	return s.registry.LastError(project)
}

// RecentOutput returns the captured stdout and stderr of a project's live
// sidecar. Absent when the subsystem is disabled.
func (s *Supervisor) RecentOutput(project string) (stdout, stderr string, ok bool) {
	if !s.isEnabled() {
		return "", "", false
	}
	entry, found := s.registry.Entry(project)
	if !found || entry.Sidecar == nil {
		return "", "", false
	}
	stdout, stderr = entry.Sidecar.Output()
	return stdout, stderr, true
}

// Projects returns the ids of all projects with a live sidecar. Empty when
// the subsystem is disabled.
func (s *Supervisor) Projects() []string {
	if !s.isEnabled() {
		return nil
	}
	return s.registry.Projects()
}

// sidecarAlive re-validates that an entry's process is actually running
// before ownership decisions act on it.
func (s *Supervisor) sidecarAlive(entry *Entry) bool {
	if entry.Sidecar != nil {
		select {
		case <-entry.Sidecar.Done():
			return false
		default:
			return true
		}
	}
	if entry.PID > 0 {
		return s.killer.Alive(entry.PID)
	}
	return false
}

// recordStartFailure writes the audit trail for a terminal start failure.
func (s *Supervisor) recordStartFailure(project string, auth *AuthConfig, err error) {
	if s.audit == nil {
		return
	}
	port := 0
	if auth != nil {
		port = auth.Port
	}
	var conflict *PortConflictError
	var auditErr error
	if errors.As(err, &conflict) {
		auditErr = s.audit.LogPortConflict(project, conflict.Port, conflict.Reason)
	} else {
		auditErr = s.audit.LogStartFailed(project, port, err.Error())
	}
	if auditErr != nil {
		s.logger.Warn("Failed to audit start failure", "project", project, "error", auditErr)
	}
}

// failureReason buckets a terminal start error for metrics.
func failureReason(err error) string {
	var cfgErr *ConfigurationError
	var portErr *PortConflictError
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &portErr):
		return "port_conflict"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "startup"
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
