package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ModelUsage is the aggregated LLM usage of one model.
type ModelUsage struct {
	Model            string  `json:"model"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService reads aggregated usage from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service for the Prometheus server at prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// UsageByModel returns token and cost totals per model, sorted by model name.
func (q *QueryService) UsageByModel(ctx context.Context) ([]ModelUsage, error) {
	byModel := make(map[string]*ModelUsage)
	get := func(name string) *ModelUsage {
		u, ok := byModel[name]
		if !ok {
			u = &ModelUsage{Model: name}
			byModel[name] = u
		}
		return u
	}

	prompt, err := q.sumByModel(ctx, `sum by (model) (codeloop_llm_tokens_total{type="prompt"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	for name, v := range prompt {
		get(name).PromptTokens = int64(v)
	}

	completion, err := q.sumByModel(ctx, `sum by (model) (codeloop_llm_tokens_total{type="completion"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	for name, v := range completion {
		get(name).CompletionTokens = int64(v)
	}

	cost, err := q.sumByModel(ctx, `sum by (model) (codeloop_llm_costs_total)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}
	for name, v := range cost {
		get(name).TotalCost = v
	}

	out := make([]ModelUsage, 0, len(byModel))
	for _, u := range byModel {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}

func (q *QueryService) sumByModel(ctx context.Context, query string) (map[string]float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller with the metric name
	}

	out := make(map[string]float64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			out[string(sample.Metric["model"])] = float64(sample.Value)
		}
	}
	return out, nil
}
