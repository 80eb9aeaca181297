// Package metrics records execution-loop metrics and queries aggregated usage back from
// a Prometheus server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder observes runs, iterations and tool calls.
type Recorder interface {
	ObserveRun(status string, iterations int, duration time.Duration)
	ObserveIteration(status string, duration time.Duration)
	ObserveToolCall(tool string, success bool, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRun(string, int, time.Duration) {}
func (nopRecorder) ObserveIteration(string, time.Duration) {}
func (nopRecorder) ObserveToolCall(string, bool, time.Duration) {}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nopRecorder{} }

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	runsTotal         *prometheus.CounterVec
	runIterations     prometheus.Histogram
	iterationsTotal   *prometheus.CounterVec
	iterationDuration *prometheus.HistogramVec
	toolCallsTotal    *prometheus.CounterVec
	toolCallDuration  *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the loop metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codeloop_runs_total",
			Help: "Total number of execution runs by final status",
		}, []string{"status"}),
		runIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "codeloop_run_iterations",
			Help:    "Number of iterations used by a run",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		iterationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codeloop_iterations_total",
			Help: "Total number of iterations by terminal status",
		}, []string{"status"}),
		iterationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codeloop_iteration_duration_seconds",
			Help:    "Duration of iterations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		toolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codeloop_tool_calls_total",
			Help: "Total number of tool calls by tool and outcome",
		}, []string{"tool", "success"}),
		toolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codeloop_tool_call_duration_seconds",
			Help:    "Duration of tool calls in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}
}

// ObserveRun implements Recorder.
func (p *PrometheusRecorder) ObserveRun(status string, iterations int, _ time.Duration) {
	p.runsTotal.WithLabelValues(status).Inc()
	p.runIterations.Observe(float64(iterations))
}

// ObserveIteration implements Recorder.
func (p *PrometheusRecorder) ObserveIteration(status string, duration time.Duration) {
	p.iterationsTotal.WithLabelValues(status).Inc()
	p.iterationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveToolCall implements Recorder.
func (p *PrometheusRecorder) ObserveToolCall(tool string, success bool, duration time.Duration) {
	outcome := "true"
	if !success {
		outcome = "false"
	}
	p.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	p.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
