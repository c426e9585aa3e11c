package supervisor

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates invalid or missing supervisor input: bad auth
// fields, an invalid port number, a missing host. It is fatal and never
// retried.
type ConfigurationError struct {
	Project string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for project %s: %s", e.Project, e.Reason)
}

// PortConflictError indicates the requested port is held by another live
// project or by a process the supervisor does not recognize. It is fatal and
// never retried; the supervisor refuses to kill processes it does not own.
type PortConflictError struct {
	Project string
	Port    int
	Reason  string
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("port %d unavailable for project %s: %s", e.Port, e.Project, e.Reason)
}

// StartupError indicates a launch attempt failed: the sidecar exited before
// binding its port, or never bound within the check budget. Retryable.
type StartupError struct {
	Project string
	Message string
	Err     error
}

func (e *StartupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sidecar for project %s failed to start: %s: %v", e.Project, e.Message, e.Err)
	}
	return fmt.Sprintf("sidecar for project %s failed to start: %s", e.Project, e.Message)
}

func (e *StartupError) Unwrap() error { return e.Err }

// DisabledError is returned by every public operation when the sidecar
// subsystem is switched off. It carries the project id for diagnostics.
type DisabledError struct {
	Project string
}

func (e *DisabledError) Error() string {
	return fmt.Sprintf("sidecar hosting is disabled (project %s)", e.Project)
}

// IsFatal reports whether err should short-circuit the start retry loop.
// Configuration and port-conflict errors propagate immediately; everything
// else is retried with cleanup in between.
func IsFatal(err error) bool {
	var cfgErr *ConfigurationError
	var portErr *PortConflictError
	return errors.As(err, &cfgErr) || errors.As(err, &portErr)
}
