package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// Each test uses its own namespace so promauto's registration against the
// default registry never collides across test functions in this package.

func TestRecordStep_ObservesDurationAndIncrementsCounter(t *testing.T) {
	c := New("test_record_step")
	c.RecordStep("flow.test.upper", true, 50*time.Millisecond)
	c.RecordStep("flow.test.upper", false, 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.stepTotal.WithLabelValues("flow.test.upper", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.stepTotal.WithLabelValues("flow.test.upper", "error")))
}

func TestRecordRetry_IncrementsPerModule(t *testing.T) {
	c := New("test_record_retry")
	c.RecordRetry("flow.test.divide")
	c.RecordRetry("flow.test.divide")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.retryTotal.WithLabelValues("flow.test.divide")))
}

func TestExecutionLifecycle_TracksInFlightAndTerminalCounts(t *testing.T) {
	c := New("test_execution_lifecycle")
	c.ExecutionStarted()
	c.ExecutionStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(c.executionsLive))

	c.ExecutionEnded("completed")
	assert.Equal(t, float64(1), testutil.ToFloat64(c.executionsLive))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.executionTotal.WithLabelValues("completed")))
}

func TestPluginHealth_ReflectsLatestPingOutcome(t *testing.T) {
	c := New("test_plugin_health")
	c.SetPluginHealth("alpha", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pluginHealth.WithLabelValues("alpha")))

	c.SetPluginHealth("alpha", false)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.pluginHealth.WithLabelValues("alpha")))
}

func TestRecordPluginRestart_IncrementsPerPlugin(t *testing.T) {
	c := New("test_plugin_restart")
	c.RecordPluginRestart("alpha")
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pluginRestarts.WithLabelValues("alpha")))
}

func TestGetSystemInfo_CapturesProcessInfoOnce(t *testing.T) {
	first := GetSystemInfo()
	second := GetSystemInfo()
	assert.Same(t, first, second)
	assert.NotEmpty(t, first.OS)
	assert.Greater(t, first.CPULogical, 0)
}

func TestRuntimeMetrics_CaptureStartAndFinalize(t *testing.T) {
	rm := CaptureStart()
	rm.Finalize()

	m := rm.ToMap()
	assert.Contains(t, m, "memory_start_mb")
	assert.Contains(t, m, "memory_end_mb")
	assert.Contains(t, m, "goroutine_start")
	assert.Contains(t, m, "goroutine_end")
}
