// Package resilience provides the fault-tolerance primitives used around
// Bazaar's remote dependencies: a circuit breaker guarding OIDC discovery
// and a bounded retry policy for transient database and network failures.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects calls immediately.
	StateOpen
	// StateHalfOpen lets a single probe call through to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute while the circuit rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// Name identifies the breaker in errors, logs and metrics.
	Name string
	// FailureThreshold is the number of consecutive failures in the closed
	// state that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before allowing a probe.
	Timeout time.Duration
	// OnStateChange, if set, is invoked synchronously on every transition,
	// exactly once, before Execute returns. It must not call back into the
	// breaker.
	OnStateChange func(from, to State)
}

// Metrics is a read-only snapshot of a breaker's internal counters.
type Metrics struct {
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastTransition       time.Time
	LastError            string
}

// CircuitBreaker guards a remote call, failing fast while the dependency is
// known to be unhealthy.
//
// Transitions: FailureThreshold consecutive failures open the circuit; after
// Timeout a single probe is allowed (half-open); SuccessThreshold consecutive
// probe successes close it; any half-open failure reopens it immediately.
type CircuitBreaker struct {
	config BreakerConfig

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	lastTransition time.Time
	lastError      string
	openedAt       time.Time
	probing        bool
}

// NewCircuitBreaker creates a breaker with the given configuration.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &CircuitBreaker{
		config:         config,
		state:          StateClosed,
		lastTransition: time.Now(),
	}
}

// Execute runs fn through the breaker. While the circuit is open and the
// timeout has not elapsed, fn is not invoked and ErrCircuitOpen is returned.
// Only one half-open probe is in flight at a time; concurrent callers are
// rejected as open until the probe resolves.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn()
	cb.afterCall(err)
	return err
}

// Call runs fn through the breaker and returns its result. The zero value is
// returned on rejection or failure.
func Call[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var result T
	err := cb.Execute(func() error {
		var err error
		result, err = fn()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the current metrics.
func (cb *CircuitBreaker) Snapshot() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Metrics{
		State:                cb.state,
		ConsecutiveFailures:  cb.failures,
		ConsecutiveSuccesses: cb.successes,
		LastTransition:       cb.lastTransition,
		LastError:            cb.lastError,
	}
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.openedAt) < cb.config.Timeout {
			return fmt.Errorf("%s: %w", cb.config.Name, ErrCircuitOpen)
		}
		cb.toState(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return fmt.Errorf("%s: probe in flight: %w", cb.config.Name, ErrCircuitOpen)
		}
		cb.probing = true
		return nil
	default:
		return fmt.Errorf("%s: %w", cb.config.Name, ErrCircuitOpen)
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false

	if err != nil {
		cb.onFailure(err)
		return
	}
	cb.onSuccess()
}

func (cb *CircuitBreaker) onSuccess() {
	cb.successes++
	cb.failures = 0

	if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessThreshold {
		cb.toState(StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure(err error) {
	cb.failures++
	cb.successes = 0
	cb.lastError = err.Error()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.toState(StateOpen)
		}
	case StateHalfOpen:
		// A single failed probe reopens the circuit.
		cb.toState(StateOpen)
	}
}

// toState transitions the breaker. Callers hold cb.mu.
func (cb *CircuitBreaker) toState(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.lastTransition = time.Now()

	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
	case StateClosed, StateHalfOpen:
		cb.successes = 0
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}
