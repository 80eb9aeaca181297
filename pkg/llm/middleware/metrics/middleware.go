package metrics

import (
	"context"
	"errors"
	"time"

	"codeloop/pkg/llm"
	"codeloop/pkg/llm/llmerrors"
	"codeloop/pkg/llm/middleware/circuit"
	"codeloop/pkg/logx"
	"codeloop/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor returns token usage for a completed request.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// CostFunc prices a request for a model in USD.
type CostFunc func(model string, promptTokens, completionTokens int) float64

// DefaultUsageExtractor trusts provider-reported usage and falls back to tiktoken counting.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		return resp.Usage.InputTokens, resp.Usage.OutputTokens
	}

	promptText := req.System + "\n"
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	return utils.CountTokensSimple(promptText), utils.CountTokensSimple(resp.Content)
}

// Middleware records latency, token usage, cost and error type of every request.
// Missing usage and cost on the response are filled in so callers see the same numbers.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, cost CostFunc, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()
				runID := logx.RunIDFrom(ctx)

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
					resp.Usage = llm.Usage{InputTokens: promptTokens, OutputTokens: completionTokens}
					if resp.Cost == 0 && cost != nil {
						resp.Cost = cost(model, promptTokens, completionTokens)
					}
				}

				recorder.ObserveRequest(model, runID, promptTokens, completionTokens, resp.Cost, err == nil, errorType(err), duration)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Info("🎯 LLM Request: model=%s run=%s tokens=%d+%d=%d cost=$%.4f status=%s duration=%dms",
						model, runID, promptTokens, completionTokens, promptTokens+completionTokens, resp.Cost, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

// errorType classifies errors for metrics labeling.
func errorType(err error) string {
	if err == nil {
		return ""
	}

	var cbErr *circuit.Error
	switch {
	case errors.As(err, &cbErr):
		return "circuit_breaker"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.Type.String()
	}
	return "unknown"
}
