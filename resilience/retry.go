// Package resilience provides retry and circuit breaking for inter-service
// calls. Retry budgets are per-call values; nothing here mutates shared
// configuration during a request.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil means DefaultShouldRetry.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig provides sensible defaults: base 100ms, doubling.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// FromConfig derives a per-call retry config from the pipeline config.
// MaxRetries counts retries, so attempts = retries + 1.
func FromConfig(rc core.RetryConfig) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   rc.MaxRetries + 1,
		InitialDelay:  rc.InitialDelay,
		MaxDelay:      rc.MaxDelay,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// DefaultShouldRetry retries transient failures only. A PipelineError with a
// non-retryable code (4xx-class, invariant violations) surfaces immediately.
func DefaultShouldRetry(err error) bool {
	var pe *core.PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	if core.IsInvariantViolation(err) {
		return false
	}
	return true
}

// Retry executes a function with retry logic. On a non-retryable error the
// backoff is skipped and the error surfaces immediately.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	shouldRetry := config.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		// Check context
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt == config.MaxAttempts {
			break
		}

		// Calculate next delay with exponential backoff
		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		// Add jitter if enabled to prevent synchronized retries
		// across multiple clients (thundering herd mitigation)
		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		// Sleep with context cancellation
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w",
		config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

// RetryWithCircuitBreaker combines retry logic with a circuit breaker.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			return core.ErrCircuitBreakerOpen
		}

		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}

		cb.RecordSuccess()
		return nil
	})
}
