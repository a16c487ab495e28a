// Package telemetry exposes Prometheus collectors for the engine.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the engine collectors. A nil *Metrics is valid and records
// nothing, so components can run without a registry.
type Metrics struct {
	running      prometheus.Gauge
	queueDepth   prometheus.Gauge
	inFlight     prometheus.Gauge
	finished     *prometheus.CounterVec
	taskRuns     *prometheus.CounterVec
	taskRetries  prometheus.Counter
	stepFailures prometheus.Counter
	eventDrops   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Passing a fresh prometheus.NewRegistry()
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autoflow_executions_running",
			Help: "Executions currently in the running state with an active loop",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autoflow_queue_depth",
			Help: "Executions waiting in the FIFO for a concurrency slot",
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autoflow_queue_in_flight",
			Help: "Execution loops launched by the queue and not yet finished",
		}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autoflow_executions_finished_total",
			Help: "Execution loops that ended, by resulting status",
		}, []string{"status"}),
		taskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autoflow_task_runs_total",
			Help: "Scheduled task cycles, by outcome",
		}, []string{"outcome"}),
		taskRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "autoflow_task_retries_total",
			Help: "Task retries scheduled after a failed run",
		}),
		stepFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "autoflow_step_failures_total",
			Help: "Steps that failed to compile",
		}),
		eventDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autoflow_event_drops_total",
			Help: "Stream events a subscriber missed because its buffer was full, by event type",
		}, []string{"event_type"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ExecutionRunning() {
	if m != nil {
		m.running.Inc()
	}
}

func (m *Metrics) ExecutionHalted(status string) {
	if m != nil {
		m.running.Dec()
		m.finished.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) SetInFlight(n int) {
	if m != nil {
		m.inFlight.Set(float64(n))
	}
}

func (m *Metrics) StepFailed() {
	if m != nil {
		m.stepFailures.Inc()
	}
}

func (m *Metrics) TaskRun(outcome string) {
	if m != nil {
		m.taskRuns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TaskRetry() {
	if m != nil {
		m.taskRetries.Inc()
	}
}

func (m *Metrics) EventDropped(eventType string) {
	if m != nil {
		m.eventDrops.WithLabelValues(eventType).Inc()
	}
}
