// Package factory builds LLM clients with the resilience middleware chain.
package factory

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"codeloop/pkg/config"
	"codeloop/pkg/llm"
	"codeloop/pkg/llm/internal/llmimpl/anthropic"
	"codeloop/pkg/llm/internal/llmimpl/google"
	"codeloop/pkg/llm/internal/llmimpl/ollama"
	"codeloop/pkg/llm/internal/llmimpl/openai"
	"codeloop/pkg/llm/middleware/circuit"
	"codeloop/pkg/llm/middleware/metrics"
	"codeloop/pkg/llm/middleware/retry"
	"codeloop/pkg/llm/middleware/timeout"
	"codeloop/pkg/llm/middleware/tracing"
	"codeloop/pkg/logx"
)

// RawClientFunc creates an unwrapped provider client.
type RawClientFunc func(provider, model, apiKey string) (llm.LLMClient, error)

// LLMClientFactory creates LLM clients with properly configured middleware chains.
// Circuit breakers are shared per provider across clients from the same factory.
type LLMClientFactory struct {
	config          config.Config
	metricsRecorder metrics.Recorder
	tracer          trace.Tracer
	logger          *logx.Logger
	newRaw          RawClientFunc
	circuitBreakers map[string]circuit.Breaker
	mu              sync.Mutex
}

// Option customizes a factory.
type Option func(*LLMClientFactory)

// WithRecorder sets the metrics recorder. The default discards metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(f *LLMClientFactory) { f.metricsRecorder = r }
}

// WithTracer sets the tracer for LLM spans. The default is the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(f *LLMClientFactory) { f.tracer = t }
}

// WithRawClientFunc replaces provider client construction, mainly for tests.
func WithRawClientFunc(fn RawClientFunc) Option {
	return func(f *LLMClientFactory) { f.newRaw = fn }
}

// NewLLMClientFactory creates a new LLM client factory with the given configuration.
func NewLLMClientFactory(cfg config.Config, opts ...Option) *LLMClientFactory {
	f := &LLMClientFactory{
		config:          cfg,
		metricsRecorder: metrics.Nop(),
		logger:          logx.NewLogger("llm"),
		newRaw:          NewRawClient,
		circuitBreakers: make(map[string]circuit.Breaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewRawClient creates the provider client for model without middleware.
func NewRawClient(provider, model, apiKey string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, model), nil
	case config.ProviderOpenAI:
		info, _ := config.GetModelInfo(model)
		return openai.NewClientWithModel(apiKey, model, info.MaxOutputTokens), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, model), nil
	case config.ProviderOllama:
		// apiKey carries the host URL for Ollama.
		return ollama.NewOllamaClientWithModel(apiKey, trimOllamaPrefix(model)), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func trimOllamaPrefix(model string) string {
	const prefix = "ollama:"
	if len(model) > len(prefix) && model[:len(prefix)] == prefix {
		return model[len(prefix):]
	}
	return model
}

// CreateClient returns a client for model wrapped as
// Metrics -> Tracing -> CircuitBreaker -> Retry -> Timeout -> RawClient.
func (f *LLMClientFactory) CreateClient(model string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", model, err)
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	rawClient, err := f.newRaw(provider, model, apiKey)
	if err != nil {
		return nil, err
	}

	retryPolicy := retry.NewPolicy(f.config.Resilience.Retry, nil)

	return llm.Chain(rawClient,
		metrics.Middleware(f.metricsRecorder, nil, config.CalculateCost, f.logger),
		tracing.Middleware(f.tracer),
		circuit.Middleware(f.breaker(provider)),
		retry.Middleware(retryPolicy, f.logger),
		timeout.Middleware(f.config.Resilience.Timeout),
	), nil
}

func (f *LLMClientFactory) breaker(provider string) circuit.Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.circuitBreakers[provider]
	if !ok {
		b = circuit.New(f.config.Resilience.CircuitBreaker)
		f.circuitBreakers[provider] = b
	}
	return b
}
