// Package circuit stops a run from hammering a model provider that keeps failing.
// After enough consecutive failed completions the breaker opens and the engine's
// next calls fail fast until a cool-down has passed.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	Closed   State = iota // completions flow
	Open                  // completions are rejected
	HalfOpen              // trial completions after the cool-down
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config is the resilience.circuit_breaker section of the run configuration.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive failures that open the breaker
	SuccessThreshold int           `yaml:"success_threshold"` // trial successes that close it again
	Timeout          time.Duration `yaml:"timeout"`           // cool-down before trial completions
}

// DefaultConfig opens after five failed completions and retries after 30s.
//
//nolint:gochecknoglobals // default config
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          30 * time.Second,
}

// Error rejects a completion without contacting the provider.
type Error struct {
	State State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// Breaker tracks completion outcomes for one provider client.
type Breaker interface {
	// Allow reports whether the next completion may go out. An expired cool-down
	// moves the breaker to HalfOpen.
	Allow() bool
	Record(success bool)
	GetState() State
	Reset()
}

//nolint:govet // field order follows the state machine
type breaker struct {
	config          Config
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	now             func() time.Time
}

// New returns a closed breaker.
func New(config Config) Breaker {
	return &breaker{config: config, state: Closed, now: time.Now}
}

func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().Sub(b.lastFailureTime) >= b.config.Timeout {
			b.state = HalfOpen
			b.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

// Record counts one completion. Any failure while HalfOpen reopens the breaker.
func (b *breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !success {
		b.failureCount++
		b.lastFailureTime = b.now()
		if b.state == HalfOpen || b.failureCount >= b.config.FailureThreshold {
			b.state = Open
			b.successCount = 0
		}
		return
	}

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

func (b *breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
}
