// Package backoff retries transient operations with capped exponential
// delays and full jitter. Network fetches in the extract stages use it; log
// publishes and store upserts do not, since at-least-once delivery from the
// message log already provides external retries.
package backoff

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config bounds a retry loop.
type Config struct {
	// MaxRetries is the total number of attempts. Values below 1 behave as 1.
	MaxRetries int
	// Base is the delay before the first retry; each subsequent delay doubles.
	Base time.Duration
	// Cap limits the exponential growth.
	Cap time.Duration
	// OnRetry, when set, runs between attempts (after the jittered sleep).
	// The extract stages use it to refresh the session before reloading.
	OnRetry func(context.Context)
}

// Retry runs op until it succeeds, the attempts are exhausted, or ctx is
// done. Each delay is drawn uniformly from [0.5*d, d) where
// d = min(Base*2^attempt, Cap). The last error is returned unwrapped so
// callers can classify it.
func Retry(ctx context.Context, cfg Config, op func(context.Context) error) error {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		delay := jitter(delayFor(cfg, attempt))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("backoff: %w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(ctx)
		}
	}
	return err
}

func delayFor(cfg Config, attempt int) time.Duration {
	d := cfg.Base << uint(attempt)
	if d > cfg.Cap || d <= 0 {
		d = cfg.Cap
	}
	return d
}

// jitter maps d onto [0.5*d, d).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
