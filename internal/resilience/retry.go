package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SleepFunc waits for the given duration or until the context is done.
// Tests inject a recording stub to keep retry schedules deterministic.
type SleepFunc func(ctx context.Context, d time.Duration) error

// defaultSleep waits on a timer with context awareness.
func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PolicyConfig configures a retry Policy.
type PolicyConfig struct {
	// Name tags the policy in logs and metrics, e.g. "external_api" or
	// "database".
	Name string
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseBackoff is the delay before the first retry; each subsequent
	// retry doubles it, capped at MaxBackoff.
	BaseBackoff time.Duration
	// MaxBackoff caps the backoff delay.
	MaxBackoff time.Duration
	// Sleep replaces the delay function. Defaults to a context-aware timer.
	Sleep SleepFunc
	// OnRetry, if set, is invoked before each retry with the operation
	// name, the attempt that just failed and its error.
	OnRetry func(operation string, attempt int, err error)
}

// Policy retries an operation a bounded number of times with exponential
// backoff. The same mechanics serve both network-bound and store-bound call
// sites; the application constructs one independently tuned Policy per kind.
type Policy struct {
	config PolicyConfig
	logger *slog.Logger
}

// NewPolicy creates a retry policy. The logger may be nil.
func NewPolicy(config PolicyConfig, logger *slog.Logger) *Policy {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 3
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}
	if config.Sleep == nil {
		config.Sleep = defaultSleep
	}

	return &Policy{config: config, logger: logger}
}

// Name returns the policy tag.
func (p *Policy) Name() string {
	return p.config.Name
}

// Do invokes fn until it succeeds or MaxAttempts is reached. On exhaustion
// the returned error names the operation and the attempt count and wraps the
// last observed error. Context cancellation aborts between attempts.
func (p *Policy) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == p.config.MaxAttempts {
			break
		}

		backoff := p.backoff(attempt)
		if p.config.OnRetry != nil {
			p.config.OnRetry(operation, attempt, lastErr)
		}
		if p.logger != nil {
			p.logger.Warn("retrying operation",
				"policy", p.config.Name,
				"operation", operation,
				"attempt", attempt,
				"backoff", backoff.String(),
				"error", lastErr,
			)
		}

		if err := p.config.Sleep(ctx, backoff); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w", p.config.Name, operation, p.config.MaxAttempts, lastErr)
}

// backoff returns the deterministic delay after the given attempt.
func (p *Policy) backoff(attempt int) time.Duration {
	d := p.config.BaseBackoff << (attempt - 1)
	if d > p.config.MaxBackoff || d <= 0 {
		return p.config.MaxBackoff
	}
	return d
}
