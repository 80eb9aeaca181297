// Package tracing adds OpenTelemetry spans around LLM requests.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"codeloop/pkg/llm"
)

// TracerName is the instrumentation scope used for LLM spans.
const TracerName = "codeloop/llm"

// Middleware opens an "llm.complete" span per request. A nil tracer uses the global provider.
func Middleware(tracer trace.Tracer) llm.Middleware {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				ctx, span := tracer.Start(ctx, "llm.complete", trace.WithAttributes(
					attribute.String("llm.model", next.GetModelName()),
					attribute.Int("llm.messages", len(req.Messages)),
					attribute.Int("llm.max_tokens", req.MaxTokens),
					attribute.Float64("llm.temperature", float64(req.Temperature)),
				))
				defer span.End()

				resp, err := next.Complete(ctx, req)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				span.SetAttributes(
					attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
					attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
					attribute.String("llm.stop_reason", resp.StopReason),
				)
				return resp, nil
			},
			next.GetModelName,
		)
	}
}
