// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	loomerr "github.com/loomhq/loom/pkg/errors"
)

// WithTimeout runs fn under a deadline. When the deadline fires before fn
// returns, a recoverable CodeTimeout error is returned and fn's eventual
// result is discarded.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return loomerr.New(loomerr.CodeTimeout, "operation timed out", ctx.Err()).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	}
}

// WithTimeoutResult is WithTimeout for functions that return a value.
func WithTimeoutResult[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := WithTimeout(ctx, d, func(ctx context.Context) error {
		var callErr error
		result, callErr = fn(ctx)
		return callErr
	})
	return result, err
}
