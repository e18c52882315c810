// Package observability registers the engine's Prometheus metrics once and
// exposes small helpers so call sites stay a single line.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type engineMetrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
	streamChunks prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	callsDetectedTotal *prometheus.CounterVec

	usageRecordsTotal *prometheus.CounterVec
	usageTokensTotal  *prometheus.CounterVec

	persistFailuresTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *engineMetrics
)

func getMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		m := &engineMetrics{
			runsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "thread_runs_total",
					Help: "Total thread runs by terminal status.",
				},
				[]string{"status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "thread_run_duration_seconds",
					Help:    "Thread run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "thread_runs_active",
					Help: "Currently active thread runs.",
				},
			),
			streamChunks: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stream_chunks_total",
					Help: "Total model stream chunks consumed.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_executions_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total failed tool executions by tool.",
				},
				[]string{"tool"},
			),
			callsDetectedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_calls_detected_total",
					Help: "Tool calls detected in model output by dialect.",
				},
				[]string{"dialect"},
			),
			usageRecordsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "usage_records_total",
					Help: "Usage records persisted, split by exact vs estimated.",
				},
				[]string{"exact"},
			),
			usageTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "usage_tokens_total",
					Help: "Tokens accounted by kind (prompt, completion).",
				},
				[]string{"kind"},
			),
			persistFailuresTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "message_persist_failures_total",
					Help: "Message persistence failures tolerated by the engine.",
				},
			),
		}

		prometheus.MustRegister(
			m.runsTotal,
			m.runDuration,
			m.activeRuns,
			m.streamChunks,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.callsDetectedTotal,
			m.usageRecordsTotal,
			m.usageTokensTotal,
			m.persistFailuresTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordRun counts a finished thread run and its duration.
func RecordRun(provider, status string, duration time.Duration) {
	m := getMetrics()
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RunStarted and RunFinished track the active-run gauge.
func RunStarted()  { getMetrics().activeRuns.Inc() }
func RunFinished() { getMetrics().activeRuns.Dec() }

// RecordStreamChunk counts one consumed model chunk.
func RecordStreamChunk() { getMetrics().streamChunks.Inc() }

// RecordCallDetected counts one detected tool call ("xml" or "native").
func RecordCallDetected(dialect string) {
	getMetrics().callsDetectedTotal.WithLabelValues(dialect).Inc()
}

// RecordToolExecution counts one tool invocation.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

// RecordUsage counts one persisted usage record and its token totals.
func RecordUsage(promptTokens, completionTokens int, exact bool) {
	m := getMetrics()
	label := "false"
	if exact {
		label = "true"
	}
	m.usageRecordsTotal.WithLabelValues(label).Inc()
	m.usageTokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	m.usageTokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
}

// RecordPersistFailure counts one tolerated message save failure.
func RecordPersistFailure() { getMetrics().persistFailuresTotal.Inc() }
