package supervisor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector on a private
// Prometheus registry.
type PrometheusMetricsCollector struct {
	startAttempts   *prometheus.CounterVec
	startFailures   *prometheus.CounterVec
	stops           *prometheus.CounterVec
	startupDuration *prometheus.HistogramVec
	zombiesKilled   prometheus.Counter
	liveSidecars    prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a collector with all supervisor
// metrics registered under the given namespace.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "mcphost"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.startAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sidecar_start_attempts_total",
			Help:      "Total number of sidecar launch attempts, including retries",
		},
		[]string{"project"},
	)

	pmc.startFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sidecar_start_failures_total",
			Help:      "Total number of terminal sidecar start failures",
		},
		[]string{"project", "reason"},
	)

	pmc.stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sidecar_stops_total",
			Help:      "Total number of completed sidecar stops",
		},
		[]string{"project"},
	)

	pmc.startupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sidecar_startup_duration_seconds",
			Help:      "Time from sidecar launch to port binding",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"project"},
	)

	pmc.zombiesKilled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zombie_processes_killed_total",
			Help:      "Total number of leftover sidecar processes removed by zombie sweeps",
		},
	)

	pmc.liveSidecars = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sidecars_live",
			Help:      "Current number of live sidecar processes",
		},
	)

	pmc.registry.MustRegister(
		pmc.startAttempts,
		pmc.startFailures,
		pmc.stops,
		pmc.startupDuration,
		pmc.zombiesKilled,
		pmc.liveSidecars,
	)

	return pmc
}

func (pmc *PrometheusMetricsCollector) StartAttempted(project string) {
	pmc.startAttempts.WithLabelValues(project).Inc()
}

func (pmc *PrometheusMetricsCollector) StartSucceeded(project string, startupTime time.Duration) {
	pmc.startupDuration.WithLabelValues(project).Observe(startupTime.Seconds())
}

func (pmc *PrometheusMetricsCollector) StartFailed(project, reason string) {
	pmc.startFailures.WithLabelValues(project, reason).Inc()
}

func (pmc *PrometheusMetricsCollector) StopCompleted(project string) {
	pmc.stops.WithLabelValues(project).Inc()
}

func (pmc *PrometheusMetricsCollector) SidecarsLive(count int) {
	pmc.liveSidecars.Set(float64(count))
}

func (pmc *PrometheusMetricsCollector) ZombieKilled(port int) {
	pmc.zombiesKilled.Inc()
}

// Registry returns the private registry for HTTP handler setup.
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
