// Package retry provides exponential-backoff retry, used by the task
// queue to retry a failed background upload before giving up and
// re-enqueueing it.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config defines retry behavior. Every error is treated as retryable —
// the task queue has no concept of a permanent failure short of the
// delayed re-enqueue described in the task queue's own retry policy.
type Config struct {
	// MaxAttempts is the total number of calls to fn, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64

	// OnRetry is called before each retry's sleep, if set.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig matches the debounced-upload backoff schedule: delays of
// 1, 2, 4, 8, 16 seconds across up to 5 retries (6 attempts total).
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  6,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
	}
}

// Retryer executes a function with exponential-backoff retries.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling in defaults for zero-valued fields.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 6
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Do runs fn, retrying on any non-nil error with exponential backoff.
// Returns the last error if every attempt fails.
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
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

		if attempt == r.config.MaxAttempts {
			break
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.config.Multiplier)
	}

	return fmt.Errorf("retry: all %d attempts failed: %w", r.config.MaxAttempts, lastErr)
}
