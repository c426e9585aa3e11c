package supervisor

import "time"

// MetricsCollector receives supervisor lifecycle events. Implementations
// must be safe for concurrent use and must never block.
type MetricsCollector interface {
	// StartAttempted is called once per launch attempt (including retries).
	StartAttempted(project string)
	// StartSucceeded is called when a sidecar binds its port, with the time
	// from launch to readiness.
	StartSucceeded(project string, startupTime time.Duration)
	// StartFailed is called on a terminal start failure with a coarse
	// reason: "configuration", "port_conflict", "startup" or "cancelled".
	StartFailed(project, reason string)
	// StopCompleted is called when a sidecar has been stopped and its
	// registry entry released.
	StopCompleted(project string)
	// SidecarsLive reports the current number of live sidecars.
	SidecarsLive(count int)
	// ZombieKilled is called once per process removed by a zombie sweep.
	ZombieKilled(port int)
}

// NoopMetricsCollector discards all events. It is the default when no
// collector is configured.
type NoopMetricsCollector struct{}

func NewNoopMetricsCollector() *NoopMetricsCollector { return &NoopMetricsCollector{} }

func (*NoopMetricsCollector) StartAttempted(string)                {}
func (*NoopMetricsCollector) StartSucceeded(string, time.Duration) {}
func (*NoopMetricsCollector) StartFailed(string, string)           {}
func (*NoopMetricsCollector) StopCompleted(string)                 {}
func (*NoopMetricsCollector) SidecarsLive(int)                     {}
func (*NoopMetricsCollector) ZombieKilled(int)                     {}
