// Package metrics exposes Prometheus instrumentation for step execution,
// retries, and plugin health, plus the ambient system-info snapshot the
// teacher captures once per process.
//
// Grounded on Azure-containerization-assist's
// pkg/mcp/infrastructure/observability/metrics/workflow_metrics.go for the
// promauto/prometheus.CounterVec/HistogramVec wiring style, scoped down to
// the metrics this engine actually emits, and on the teacher's
// common/metrics/system.go + cmd/workflow-runner/metrics/runtime.go for
// the process-level SystemInfo/RuntimeMetrics snapshot (kept largely
// as-is: it is pure os/runtime introspection with nothing domain-specific
// to adapt).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every Prometheus metric the engine emits. One Collector
// is constructed per process and shared across every execution.
type Collector struct {
	stepDuration   *prometheus.HistogramVec
	stepTotal      *prometheus.CounterVec
	retryTotal     *prometheus.CounterVec
	executionTotal *prometheus.CounterVec
	executionsLive prometheus.Gauge
	pluginHealth   *prometheus.GaugeVec
	pluginRestarts *prometheus.CounterVec
}

// New constructs a Collector and registers its metrics under namespace
// (e.g. "flowengine") against the default Prometheus registry.
func New(namespace string) *Collector {
	return &Collector{
		stepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"module_id", "status"}),

		stepTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_total",
			Help:      "Total step invocations by module and outcome",
		}, []string{"module_id", "status"}),

		retryTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retry_total",
			Help:      "Total step retries by module",
		}, []string{"module_id"}),

		executionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_total",
			Help:      "Total workflow executions by terminal status",
		}, []string{"status"}),

		executionsLive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Number of executions currently running",
		}),

		pluginHealth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugin_instance_healthy",
			Help:      "1 if the plugin instance last responded to ping, else 0",
		}, []string{"plugin"}),

		pluginRestarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_restart_total",
			Help:      "Total plugin instance restarts",
		}, []string{"plugin"}),
	}
}

// RecordStep observes one step invocation's duration and outcome.
func (c *Collector) RecordStep(moduleID string, ok bool, d time.Duration) {
	status := statusLabel(ok)
	c.stepDuration.WithLabelValues(moduleID, status).Observe(d.Seconds())
	c.stepTotal.WithLabelValues(moduleID, status).Inc()
}

// RecordRetry records one retry attempt for a step.
func (c *Collector) RecordRetry(moduleID string) {
	c.retryTotal.WithLabelValues(moduleID).Inc()
}

// ExecutionStarted marks one more execution in flight.
func (c *Collector) ExecutionStarted() {
	c.executionsLive.Inc()
}

// ExecutionEnded records a terminal execution status and decrements the
// in-flight gauge.
func (c *Collector) ExecutionEnded(status string) {
	c.executionsLive.Dec()
	c.executionTotal.WithLabelValues(status).Inc()
}

// SetPluginHealth records a plugin instance's last ping outcome.
func (c *Collector) SetPluginHealth(plugin string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.pluginHealth.WithLabelValues(plugin).Set(v)
}

// RecordPluginRestart records one plugin instance restart.
func (c *Collector) RecordPluginRestart(plugin string) {
	c.pluginRestarts.WithLabelValues(plugin).Inc()
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
