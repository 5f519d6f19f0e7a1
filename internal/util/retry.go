package util

import (
	"context"
	"time"
)

// Retry runs fn up to 1+maxAttempts times with a fixed delay between
// attempts. maxAttempts of zero means a single try with no retry; sharing
// and comment mutations run with zero so their failure behavior stays
// observable to callers. Startup connectivity checks pass a positive count.
func Retry(ctx context.Context, maxAttempts int, delay time.Duration, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
