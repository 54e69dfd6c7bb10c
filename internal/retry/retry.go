// Package retry provides a small bounded-retry helper for transient store
// failures. It intentionally has no jitter or exponential growth; the two
// call sites it serves (balance read, transaction append) want a handful of
// quick attempts, not a resilience framework.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config bounds a retry loop.
type Config struct {
	Attempts int
	Delay    time.Duration
}

// DefaultConfig matches the historical three-attempts-with-short-pause
// behaviour of the storefront's database paths.
var DefaultConfig = Config{Attempts: 3, Delay: 100 * time.Millisecond}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error as not worth retrying. Do returns the wrapped
// error immediately. Business rejections (insufficient funds, unknown handle)
// are permanent; only infrastructure hiccups deserve another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn up to cfg.Attempts times, sleeping cfg.Delay between attempts.
// The last error is returned. Context cancellation aborts the loop between
// attempts.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	var err error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Delay):
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return err
}
