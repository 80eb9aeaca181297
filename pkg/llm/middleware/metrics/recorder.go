// Package metrics provides metrics recording for LLM client operations.
package metrics

import (
	"sync"
	"time"
)

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, runID string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_, _ string, _, _ int, _ float64, _ bool, _ string, _ time.Duration) {}

// RunMetrics aggregates LLM usage for one execution run.
//
//nolint:govet
type RunMetrics struct {
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	RequestCount     int64     `json:"request_count"`
	ErrorCount       int64     `json:"error_count"`
	TotalCost        float64   `json:"total_cost_usd"`
	RunID            string    `json:"run_id"`
	LastUpdated      time.Time `json:"last_updated"`
}

// InternalRecorder aggregates usage in memory, keyed by run id.
type InternalRecorder struct {
	runs map[string]*RunMetrics
	mu   sync.RWMutex
}

// NewInternalRecorder creates an empty in-memory recorder.
func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{runs: make(map[string]*RunMetrics)}
}

// ObserveRequest implements Recorder.
func (r *InternalRecorder) ObserveRequest(
	_, runID string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	_ string,
	_ time.Duration,
) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		run = &RunMetrics{RunID: runID}
		r.runs[runID] = run
	}

	run.RequestCount++
	run.LastUpdated = time.Now()
	if !success {
		run.ErrorCount++
		return
	}
	run.PromptTokens += int64(promptTokens)
	run.CompletionTokens += int64(completionTokens)
	run.TotalCost += cost
}

// GetRunMetrics returns a copy of the aggregated metrics for runID, or nil.
func (r *InternalRecorder) GetRunMetrics(runID string) *RunMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if run, ok := r.runs[runID]; ok {
		cp := *run
		return &cp
	}
	return nil
}

// Fanout returns a Recorder that forwards to every non-nil recorder.
func Fanout(recorders ...Recorder) Recorder {
	var live []Recorder
	for _, r := range recorders {
		if r != nil {
			live = append(live, r)
		}
	}
	return fanout(live)
}

type fanout []Recorder

func (f fanout) ObserveRequest(model, runID string, p, c int, cost float64, success bool, errorType string, d time.Duration) {
	for _, r := range f {
		r.ObserveRequest(model, runID, p, c, cost, success, errorType, d)
	}
}
