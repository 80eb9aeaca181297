package retry

import (
	"context"
	"fmt"
	"time"

	"codeloop/pkg/llm"
	"codeloop/pkg/llm/llmerrors"
	"codeloop/pkg/logx"
)

// Middleware returns a middleware function that wraps an LLM client with retry logic.
// Failed requests are retried according to the policy with exponential backoff.
// Exhausting the attempts on a retryable error yields a ServiceUnavailable error.
func Middleware(policy *Policy, logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error
				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					if delay := policy.CalculateDelay(attempt); delay > 0 {
						select {
						case <-ctx.Done():
							return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
						case <-time.After(delay):
						}
					}

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					if !policy.ShouldRetry(err) {
						return llm.CompletionResponse{}, err //nolint:wrapcheck // Middleware should pass through errors unchanged
					}
					if logger != nil && attempt < policy.Config.MaxAttempts {
						logger.Warn("🔁 LLM attempt %d/%d failed, retrying: %v", attempt, policy.Config.MaxAttempts, err)
					}
				}

				return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
			},
			next.GetModelName,
		)
	}
}
