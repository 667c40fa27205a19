// Package backoff retries an operation with capped exponential delays.
//
// It is shared by the decode artifact fetcher (bounded retries inside a single
// bootstrap) and the RTSP camera source (reconnection after stream loss).
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config contains configuration for exponential backoff retries
type Config struct {
	MaxRetries    int           `yaml:"max_retries"`     // Maximum number of retry attempts after the first (default: 5)
	RetryDelay    time.Duration `yaml:"retry_delay"`     // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"` // Maximum retry delay cap (default: 30 seconds)
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// State tracks the retries of one Run loop. Attempts is safe to read from
// other goroutines.
type State struct {
	CurrentRetries int
	Attempts       atomic.Uint32 // Total failed attempts across runs
}

// Reset clears the retry counter after a success observed outside Run.
func (s *State) Reset() {
	s.CurrentRetries = 0
}

// Func is one attempt. Returning an error wrapped with Permanent stops the
// loop without further retries.
type Func func(ctx context.Context) error

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ErrMaxRetries is wrapped by Run when the retry budget is exhausted.
var ErrMaxRetries = errors.New("backoff: max retries exceeded")

// Run executes fn, retrying failures with exponential backoff.
//
// Backoff schedule with the default config:
//   - Retry 1: 1 second
//   - Retry 2: 2 seconds
//   - Retry 3: 4 seconds
//   - Retry 4: 8 seconds
//   - Retry 5: 16 seconds
//   - After 5 failed retries: stop
//
// Run returns nil on the first success, the unwrapped error of a Permanent
// failure, the last error joined with ErrMaxRetries when retries run out, or
// the context error if ctx ends first. state may be nil.
func Run(ctx context.Context, name string, fn Func, cfg Config, state *State) error {
	if state == nil {
		state = &State{}
	}

	for {
		// Check context before attempting
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if state.CurrentRetries > 0 {
				slog.Info("backoff: operation succeeded after retries", "op", name, "retries", state.CurrentRetries)
			}
			state.CurrentRetries = 0
			return nil
		}

		if IsPermanent(err) {
			slog.Error("backoff: permanent failure", "op", name, "error", err)
			return errors.Unwrap(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		state.CurrentRetries++
		state.Attempts.Add(1)

		if state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("%w (%s, %d attempts): %w", ErrMaxRetries, name, cfg.MaxRetries, err)
		}

		delay := Delay(state.CurrentRetries, cfg)

		slog.Warn("backoff: retrying",
			"op", name,
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		// Wait with backoff (or until context cancelled)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Delay calculates the backoff delay for a given retry attempt
//
// Formula: delay = retryDelay * 2^(attempt-1)
// Cap: min(delay, maxRetryDelay)
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Avoid overflowing the shift for absurd attempt counts.
	if attempt > 30 {
		attempt = 30
	}

	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if cfg.MaxRetryDelay > 0 && (delay > cfg.MaxRetryDelay || delay < 0) {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
