package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics collection for
// graph execution.
//
// Metrics exposed (all namespaced with "langgraph_"):
//
//  1. step_latency_ms (histogram): node execution duration.
//     Labels: node_id, status (success/error/timeout).
//  2. checkpoints_total (counter): checkpoints appended.
//     Labels: source (input/loop/inject).
//  3. interrupts_total (counter): runs paused before an interrupt node.
//     Labels: node_id.
//  4. runs_total (counter): Run/Resume/Inject outcomes.
//     Labels: status (done/paused/error).
//  5. anomalies_total (counter): degraded paths that did not fail the run,
//     such as a reject without a known tool call id.
//     Labels: kind.
//
// Thread-safe: all methods may be called concurrently.
type PrometheusMetrics struct {
	stepLatency *prometheus.HistogramVec
	checkpoints *prometheus.CounterVec
	interrupts  *prometheus.CounterVec
	runs        *prometheus.CounterVec
	anomalies   *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all graph execution metrics
// with the provided Prometheus registry.
//
// A nil registry means prometheus.DefaultRegisterer. Tests should pass a
// fresh prometheus.NewRegistry() to avoid duplicate registration panics.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "langgraph",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"node_id", "status"})

	pm.checkpoints = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "langgraph",
		Name:      "checkpoints_total",
		Help:      "Checkpoints appended to the store",
	}, []string{"source"})

	pm.interrupts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "langgraph",
		Name:      "interrupts_total",
		Help:      "Runs paused before an interrupt node",
	}, []string{"node_id"})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "langgraph",
		Name:      "runs_total",
		Help:      "Engine calls by outcome",
	}, []string{"status"})

	pm.anomalies = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "langgraph",
		Name:      "anomalies_total",
		Help:      "Degraded paths taken without failing the run",
	}, []string{"kind"})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency records the execution duration of a node.
// Status is one of "success", "error" or "timeout".
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncCheckpoint counts one appended checkpoint.
func (pm *PrometheusMetrics) IncCheckpoint(source string) {
	if !pm.on() {
		return
	}
	pm.checkpoints.WithLabelValues(source).Inc()
}

// IncInterrupt counts one pause before nodeID.
func (pm *PrometheusMetrics) IncInterrupt(nodeID string) {
	if !pm.on() {
		return
	}
	pm.interrupts.WithLabelValues(nodeID).Inc()
}

// IncRun counts one finished engine call.
func (pm *PrometheusMetrics) IncRun(status string) {
	if !pm.on() {
		return
	}
	pm.runs.WithLabelValues(status).Inc()
}

// IncAnomaly counts one degraded path, for example "reject_placeholder".
func (pm *PrometheusMetrics) IncAnomaly(kind string) {
	if !pm.on() {
		return
	}
	pm.anomalies.WithLabelValues(kind).Inc()
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
