// Package retry runs operations that fail transiently, such as relay
// publishes and planning calls, under a bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config bounds a retried operation.
type Config struct {
	// MaxAttempts counts every try including the first. Values below one
	// collapse to a single attempt.
	MaxAttempts int

	// InitialDelay is the sleep after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps backoff growth.
	MaxDelay time.Duration

	// Factor multiplies the delay after each failed attempt.
	Factor float64

	// Jitter spreads each sleep uniformly across [0.5, 1.5] of its nominal
	// value so callers that fail together do not retry in lockstep.
	Jitter bool
}

// Exponential returns a jittered doubling backoff bounded by max.
func Exponential(maxAttempts int, initial, max time.Duration) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		MaxDelay:     max,
		Factor:       2.0,
		Jitter:       true,
	}
}

// withDefaults fills zero or invalid fields with safe bounds.
func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// backoff returns the sleep that follows the given failed attempt, 1-based.
func (c Config) backoff(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Factor, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter {
		d *= 0.5 + rand.Float64() // #nosec G404 -- spread, not secrecy
	}
	return time.Duration(d)
}

// Result reports how a retried operation went.
type Result struct {
	// Attempts is how many tries ran.
	Attempts int

	// Err is the final error, nil on success.
	Err error
}

// Do runs op until it succeeds, returns a permanent error, exhausts the
// attempt budget, or the context ends. Sleeps honour cancellation.
func Do(ctx context.Context, config Config, op func() error) Result {
	config = config.withDefaults()
	var res Result

	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		res.Attempts++
		res.Err = op()
		if res.Err == nil || IsPermanent(res.Err) || res.Attempts >= config.MaxAttempts {
			return res
		}

		timer := time.NewTimer(config.backoff(res.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Err = ctx.Err()
			return res
		case <-timer.C:
		}
	}
}

// DoWithValue is Do for operations that produce a value. The value from the
// last attempt is returned even when that attempt failed.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error so Do stops instead of retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether the error chain carries a permanent marker.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
