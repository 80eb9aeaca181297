// Package retry re-sends failed completions with exponential backoff so a transient
// provider error does not cost the engine an iteration.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"codeloop/pkg/llm/llmerrors"
	"codeloop/pkg/llm/middleware/circuit"
)

// Config is the resilience.retry section of the run configuration.
type Config struct {
	MaxAttempts   int           `yaml:"max_attempts"`   // first call included
	InitialDelay  time.Duration `yaml:"initial_delay"`  // wait before the second call
	MaxDelay      time.Duration `yaml:"max_delay"`      // cap on any single wait
	BackoffFactor float64       `yaml:"backoff_factor"` // growth per attempt
	Jitter        bool          `yaml:"jitter"`         // spread waits by up to 10%
}

// DefaultConfig tries a completion three times, waiting 0.5s then 1s.
//
//nolint:gochecknoglobals // default config
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier reports whether a failed completion is worth sending again.
type Classifier func(error) bool

// ShouldRetry is the default Classifier. A classified provider error decides for
// itself. Other errors are retried unless the run was cancelled or the breaker is open.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return false
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}

	return true
}

// Policy pairs the backoff schedule with the classifier.
//
//nolint:govet // config first
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy falls back to ShouldRetry and to a single attempt when config asks for fewer.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
	}
}

// CalculateDelay returns the wait before attempt (1-based). The first attempt never waits.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	// ±10%
	if p.Config.Jitter && delay > 0 {
		jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
		delay += jitter
	}
	return delay
}

func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
