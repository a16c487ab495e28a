package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ExecutionRunning()
	m.ExecutionRunning()
	m.ExecutionHalted("completed")
	m.SetQueueDepth(3)
	m.SetInFlight(2)
	m.TaskRetry()
	m.TaskRun("failed")
	m.StepFailed()
	m.EventDropped("step_started")

	out := scrape(t, m)
	assert.Contains(t, out, "autoflow_executions_running 1")
	assert.Contains(t, out, `autoflow_executions_finished_total{status="completed"} 1`)
	assert.Contains(t, out, "autoflow_queue_depth 3")
	assert.Contains(t, out, "autoflow_queue_in_flight 2")
	assert.Contains(t, out, "autoflow_task_retries_total 1")
	assert.Contains(t, out, `autoflow_task_runs_total{outcome="failed"} 1`)
	assert.Contains(t, out, "autoflow_step_failures_total 1")
	assert.Contains(t, out, `autoflow_event_drops_total{event_type="step_started"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ExecutionRunning()
		m.ExecutionHalted("failed")
		m.SetQueueDepth(1)
		m.SetInFlight(1)
		m.TaskRetry()
		m.TaskRun("completed")
		m.StepFailed()
		m.EventDropped("tick")
	})
}
