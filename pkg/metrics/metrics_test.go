package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveIteration("thinking_requested", time.Second)
	rec.ObserveIteration("exit_success", time.Second)
	rec.ObserveRun("success", 2, 2*time.Second)
	rec.ObserveToolCall("search", true, time.Millisecond)
	rec.ObserveToolCall("search", false, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(rec.iterationsTotal.WithLabelValues("exit_success")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.runsTotal.WithLabelValues("success")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.toolCallsTotal.WithLabelValues("search", "false")), 1e-9)

	expected := `
# HELP codeloop_iterations_total Total number of iterations by terminal status
# TYPE codeloop_iterations_total counter
codeloop_iterations_total{status="exit_success"} 1
codeloop_iterations_total{status="thinking_requested"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "codeloop_iterations_total"))
}

func TestNopRecorder(t *testing.T) {
	rec := Nop()
	rec.ObserveRun("error", 3, time.Second)
	rec.ObserveIteration("aborted", time.Second)
	rec.ObserveToolCall("x", true, 0)
}

func TestUsageByModel(t *testing.T) {
	responses := map[string]string{
		`sum by (model) (codeloop_llm_tokens_total{type="prompt"})`:     `[{"metric":{"model":"gpt-4o"},"value":[1700000000,"120"]},{"metric":{"model":"claude-sonnet-4-5"},"value":[1700000000,"80"]}]`,
		`sum by (model) (codeloop_llm_tokens_total{type="completion"})`: `[{"metric":{"model":"gpt-4o"},"value":[1700000000,"30"]}]`,
		`sum by (model) (codeloop_llm_costs_total)`:                     `[{"metric":{"model":"gpt-4o"},"value":[1700000000,"0.25"]}]`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		result, ok := responses[r.Form.Get("query")]
		if !ok {
			result = "[]"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":` + result + `}}`))
	}))
	defer srv.Close()

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	usage, err := q.UsageByModel(context.Background())
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, ModelUsage{Model: "claude-sonnet-4-5", PromptTokens: 80, TotalTokens: 80}, usage[0])
	assert.Equal(t, ModelUsage{Model: "gpt-4o", PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150, TotalCost: 0.25}, usage[1])
}

func TestUsageByModelServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","errorType":"bad_data","error":"parse error"}`))
	}))
	defer srv.Close()

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)
	_, err = q.UsageByModel(context.Background())
	assert.ErrorContains(t, err, "prompt tokens")
}
