// Package metrics holds the engine's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homeassist"

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	schedulerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "running",
			Help:      "1 while the scheduler loop is running.",
		},
	)

	schedulerCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Evaluation cycles by kind and result.",
		},
		[]string{"kind", "result"},
	)

	schedulerCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of evaluation cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"kind"},
	)

	automationExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "executions_total",
			Help:      "Automation executions by trigger source and outcome.",
		},
		[]string{"source", "success"},
	)

	automationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "execution_duration_seconds",
			Help:      "Duration of automation executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"source"},
	)

	conversationTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		schedulerRunning,
		schedulerCycles,
		schedulerCycleDuration,
		automationExecutions,
		automationDuration,
		conversationTurns,
		httpRequests,
		httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry over HTTP
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetSchedulerRunning flips the scheduler gauge
func SetSchedulerRunning(running bool) {
	if running {
		schedulerRunning.Set(1)
		return
	}
	schedulerRunning.Set(0)
}

// RecordCycle records one evaluation cycle of the given kind ("time" or "state")
func RecordCycle(kind string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	schedulerCycles.WithLabelValues(kind, result).Inc()
	schedulerCycleDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordExecution records one automation execution
func RecordExecution(source string, duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	automationExecutions.WithLabelValues(source, strconv.FormatBool(success)).Inc()
	automationDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordConversationTurn counts a conversation turn by outcome
func RecordConversationTurn(outcome string) {
	conversationTurns.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records a served request. path should be the route
// template, not the raw URL, to bound label cardinality.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
