package driver

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultRetryDelay    = 500 * time.Millisecond
	defaultMaxRetryDelay = 8 * time.Second
)

// withRetry runs fn up to attempts times while it fails with a transient error.
func withRetry(ctx context.Context, attempts int, delay time.Duration, op string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !IsTransient(err) || attempt >= attempts {
			return err
		}

		wait := delay << (attempt - 1)
		if wait > defaultMaxRetryDelay || wait <= 0 {
			wait = defaultMaxRetryDelay
		}
		slog.Debug("retrying request", "op", op, "attempt", attempt, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
