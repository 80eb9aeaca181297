package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"codeloop/pkg/llm/middleware/circuit"
	"codeloop/pkg/llm/middleware/retry"
)

// Load reads the configuration at path. An empty path yields defaults plus environment
// overrides. A .env file next to the config (or in the working directory when path is empty)
// is loaded first without overriding variables already set.
func Load(path string) (*Config, error) {
	envDir := "."
	if path != "" {
		envDir = filepath.Dir(path)
	}
	if err := loadDotEnv(filepath.Join(envDir, ".env")); err != nil {
		return nil, err
	}

	cfg := createDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads path and installs it as the global configuration.
func LoadConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	mu.Lock()
	current = cfg
	mu.Unlock()
	getLogger().Info("Loaded config: model=%s loop=%d temperature=%.2f", cfg.Model, cfg.Loop, cfg.Temperature)
	return nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		getLogger().Debug("Loaded environment from %s", path)
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv(EnvLoop); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrConfiguration, EnvLoop, v)
		}
		cfg.Loop = n
	}
	if v := os.Getenv(EnvTemperature); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrConfiguration, EnvTemperature, v)
		}
		cfg.Temperature = float32(f)
	}
	return nil
}

// applyDefaults fills zero values left by a partial YAML document.
func applyDefaults(cfg *Config) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Loop == 0 {
		cfg.Loop = DefaultLoop
	}
	if cfg.Resilience.Timeout == 0 {
		cfg.Resilience.Timeout = DefaultRequestTimeout
	}
	if cfg.Resilience.Retry.MaxAttempts == 0 {
		cfg.Resilience.Retry.MaxAttempts = retry.DefaultConfig.MaxAttempts
	}
	if cfg.Resilience.CircuitBreaker.FailureThreshold == 0 {
		cfg.Resilience.CircuitBreaker = circuit.DefaultConfig
	}
	if cfg.Sandbox.MaxConcurrentTools == 0 {
		cfg.Sandbox.MaxConcurrentTools = DefaultMaxConcurrentTools
	}
	if cfg.Sandbox.SlowToolWarning == 0 {
		cfg.Sandbox.SlowToolWarning = DefaultSlowToolWarning
	}
}
