// Package config loads and validates codeloop configuration.
//
// Configuration comes from three layers, later ones winning:
//
//  1. built-in defaults (createDefaultConfig)
//  2. a YAML file, optionally accompanied by a .env file in the same directory
//  3. CODELOOP_* environment variables
//
// The model registry (KnownModels, ProviderPatterns) is static and not user-configurable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"codeloop/pkg/llm/middleware/circuit"
	"codeloop/pkg/llm/middleware/retry"
	"codeloop/pkg/logx"
)

// ErrConfiguration is wrapped by every validation failure.
var ErrConfiguration = errors.New("invalid configuration")

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"

	EnvModel       = "CODELOOP_MODEL"
	EnvLoop        = "CODELOOP_LOOP"
	EnvTemperature = "CODELOOP_TEMPERATURE"
)

// Defaults.
const (
	DefaultModel              = "claude-sonnet-4-5"
	DefaultLoop               = 3
	DefaultTemperature        = 0.7
	DefaultRequestTimeout     = 3 * time.Minute
	DefaultMaxConcurrentTools = 8
	DefaultSlowToolWarning    = 15 * time.Second
	DefaultOllamaHost         = "http://localhost:11434"
)

// ModelInfo contains static information about a known LLM model.
type ModelInfo struct {
	Provider         string  // API provider
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels registry contains pricing and provider information for common models.
// Unknown models are inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},
	"claude-3-5-haiku-latest": {
		Provider:         ProviderAnthropic,
		InputCPM:         0.8,
		OutputCPM:        4.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         0.15,
		OutputCPM:        0.6,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o4-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gemini-2.0-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.10,
		OutputCPM:        0.40,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  8192,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
}

// ProviderPattern maps a model-name prefix onto a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model names.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"ollama:", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"phi", ProviderOllama},
	{"deepseek", ProviderOllama},
}

// GetModelProvider returns the API provider for a model, first from KnownModels, then by prefix.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns registry data for modelName. Unknown models get conservative
// defaults with an inferred provider and false.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}
	provider, _ := GetModelProvider(modelName)
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// CalculateCost returns the USD cost of a request. Unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, exists := KnownModels[modelName]
	if !exists {
		return 0
	}
	return float64(promptTokens)/1_000_000*info.InputCPM + float64(completionTokens)/1_000_000*info.OutputCPM
}

// GetAPIKey returns the API key for provider from the environment (after .env loading).
// For Ollama the host URL is returned instead.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		if host := os.Getenv(EnvOllamaHost); host != "" {
			return host, nil
		}
		return DefaultOllamaHost, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s is not set", envVar)
}

// ResilienceConfig configures the LLM middleware chain.
type ResilienceConfig struct {
	Timeout        time.Duration  `yaml:"timeout"`
	Retry          retry.Config   `yaml:"retry"`
	CircuitBreaker circuit.Config `yaml:"circuit_breaker"`
}

// TruncationConfig tunes prompt truncation.
type TruncationConfig struct {
	// ContextWindowOverride replaces the model's context window when positive.
	ContextWindowOverride int `yaml:"context_window_override"`
}

// SandboxConfig tunes code execution.
type SandboxConfig struct {
	MaxConcurrentTools int           `yaml:"max_concurrent_tools"`
	SlowToolWarning    time.Duration `yaml:"slow_tool_warning"`
}

// ExitConfig declares an exit. Schema is a JSON Schema document.
type ExitConfig struct {
	Name        string         `yaml:"name"`
	Aliases     []string       `yaml:"aliases"`
	Description string         `yaml:"description"`
	Schema      map[string]any `yaml:"schema"`
}

// PropertyConfig declares an object property.
type PropertyConfig struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Value       any            `yaml:"value"`
	Writable    bool           `yaml:"writable"`
	Schema      map[string]any `yaml:"schema"`
}

// ObjectConfig declares an object instance exposed to generated code.
type ObjectConfig struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Properties  []PropertyConfig `yaml:"properties"`
}

// MessageConfig is one transcript entry.
type MessageConfig struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// TaskConfig describes the work handed to the loop by the CLI.
type TaskConfig struct {
	Instructions string          `yaml:"instructions"`
	Exits        []ExitConfig    `yaml:"exits"`
	Objects      []ObjectConfig  `yaml:"objects"`
	Transcript   []MessageConfig `yaml:"transcript"`
}

// Config is the full codeloop configuration.
//
//nolint:govet // logical grouping preferred over alignment
type Config struct {
	Model       string           `yaml:"model"`
	Loop        int              `yaml:"loop"`
	Temperature float32          `yaml:"temperature"`
	Resilience  ResilienceConfig `yaml:"resilience"`
	Truncation  TruncationConfig `yaml:"truncation"`
	Sandbox     SandboxConfig    `yaml:"sandbox"`
	Task        TaskConfig       `yaml:"task"`
}

// ContextWindow returns the token budget for prompts sent to the configured model.
func (c *Config) ContextWindow() int {
	if c.Truncation.ContextWindowOverride > 0 {
		return c.Truncation.ContextWindowOverride
	}
	info, _ := GetModelInfo(c.Model)
	return info.MaxContextTokens
}

// Validate checks the configuration. Errors wrap ErrConfiguration.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: model cannot be empty", ErrConfiguration)
	}
	if _, err := GetModelProvider(c.Model); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if c.Loop < 1 {
		return fmt.Errorf("%w: loop must be at least 1, got %d", ErrConfiguration, c.Loop)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0.0 and 2.0", ErrConfiguration)
	}
	if c.Sandbox.MaxConcurrentTools < 1 {
		return fmt.Errorf("%w: sandbox.max_concurrent_tools must be positive", ErrConfiguration)
	}

	seen := make(map[string]bool)
	for i := range c.Task.Exits {
		name := strings.ToLower(c.Task.Exits[i].Name)
		if name == "" {
			return fmt.Errorf("%w: task.exits[%d] has no name", ErrConfiguration, i)
		}
		if name == "think" {
			return fmt.Errorf("%w: exit name %q is reserved", ErrConfiguration, c.Task.Exits[i].Name)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate exit %q", ErrConfiguration, c.Task.Exits[i].Name)
		}
		seen[name] = true
	}
	for i := range c.Task.Transcript {
		switch c.Task.Transcript[i].Role {
		case "user", "assistant":
		default:
			return fmt.Errorf("%w: task.transcript[%d] has invalid role %q", ErrConfiguration, i, c.Task.Transcript[i].Role)
		}
	}
	return nil
}

func createDefaultConfig() *Config {
	return &Config{
		Model:       DefaultModel,
		Loop:        DefaultLoop,
		Temperature: DefaultTemperature,
		Resilience: ResilienceConfig{
			Timeout:        DefaultRequestTimeout,
			Retry:          retry.DefaultConfig,
			CircuitBreaker: circuit.DefaultConfig,
		},
		Sandbox: SandboxConfig{
			MaxConcurrentTools: DefaultMaxConcurrentTools,
			SlowToolWarning:    DefaultSlowToolWarning,
		},
	}
}

// Global config instance for the CLI.
//
//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	current *Config
	logger  *logx.Logger
	mu      sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// GetConfig returns a copy of the loaded configuration.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Config{}, fmt.Errorf("config not loaded - call LoadConfig first")
	}
	return *current, nil
}

// SetConfigForTesting installs cfg as the global configuration. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}
