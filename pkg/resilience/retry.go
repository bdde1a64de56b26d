// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience provides retry with exponential backoff and timeout
// wrappers for calls that reach out to external services such as LLM
// providers and exchange-rate APIs.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	loomerr "github.com/loomhq/loom/pkg/errors"
)

// RetryConfig controls the retry behavior of Do and DoWithResult.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay between attempts.
	MaxDelay time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64

	// IsRecoverable decides whether an error is worth retrying.
	// When nil, isRecoverableDefault is used.
	IsRecoverable func(error) bool

	// Jitter adds randomness to the delay, expressed as a fraction
	// of the computed backoff (0.1 means up to ±10%).
	Jitter float64
}

// DefaultRetryConfig returns a config suitable for short network calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// WithMaxAttempts returns a copy of the config with MaxAttempts set.
func (c RetryConfig) WithMaxAttempts(n int) RetryConfig {
	c.MaxAttempts = n
	return c
}

// WithInitialDelay returns a copy of the config with InitialDelay set.
func (c RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	c.InitialDelay = d
	return c
}

// WithMaxDelay returns a copy of the config with MaxDelay set.
func (c RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	c.MaxDelay = d
	return c
}

// WithIsRecoverable returns a copy of the config with a custom
// recoverability predicate.
func (c RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	c.IsRecoverable = fn
	return c
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// not recoverable, or the context ends. The last error is returned.
func (c RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	isRecoverable := c.IsRecoverable
	if isRecoverable == nil {
		isRecoverable = isRecoverableDefault
	}

	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRecoverable(lastErr) || attempt == c.MaxAttempts {
			return lastErr
		}

		delay := c.calculateBackoff(attempt)
		select {
		case <-ctx.Done():
			return loomerr.New(loomerr.CodeTimeout, "context ended during retry", ctx.Err()).
				WithContext("attempt", attempt)
		case <-time.After(delay):
		}
	}
	return lastErr
}

// DoWithResult is Do for functions that return a value alongside the error.
func DoWithResult[T any](ctx context.Context, c RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := c.Do(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = fn(ctx)
		return callErr
	})
	return result, err
}

func (c RetryConfig) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if max := float64(c.MaxDelay); backoff > max {
		backoff = max
	}
	if c.Jitter > 0 {
		// Spread the delay by ±Jitter to avoid synchronized retries.
		backoff += backoff * c.Jitter * (2*rand.Float64() - 1)
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

// isRecoverableDefault treats typed errors as the source of truth and
// retries anything unclassified.
func isRecoverableDefault(err error) bool {
	var le *loomerr.LoomError
	if errors.As(err, &le) {
		return le.Recoverable
	}
	return true
}
