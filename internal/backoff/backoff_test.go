package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Config{MaxRetries: 5, Base: time.Millisecond, Cap: 4 * time.Millisecond},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), Config{MaxRetries: 3, Base: time.Millisecond, Cap: time.Millisecond},
		func(context.Context) error {
			calls++
			return boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryInvokesOnRetryBetweenAttempts(t *testing.T) {
	retries := 0
	calls := 0
	cfg := Config{
		MaxRetries: 3,
		Base:       time.Millisecond,
		Cap:        time.Millisecond,
		OnRetry:    func(context.Context) { retries++ },
	}
	_ = Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	// OnRetry runs between attempts, never after the last one.
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, Config{MaxRetries: 10, Base: time.Hour, Cap: time.Hour},
		func(context.Context) error {
			calls++
			return errors.New("transient")
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation must stop the loop at the first sleep")
}

func TestJitterStaysWithinBounds(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 1000; i++ {
		j := jitter(d)
		assert.GreaterOrEqual(t, j, d/2)
		assert.LessOrEqual(t, j, d)
	}
}

func TestDelayForIsCapped(t *testing.T) {
	cfg := Config{Base: time.Second, Cap: 4 * time.Second}
	assert.Equal(t, time.Second, delayFor(cfg, 0))
	assert.Equal(t, 2*time.Second, delayFor(cfg, 1))
	assert.Equal(t, 4*time.Second, delayFor(cfg, 2))
	assert.Equal(t, 4*time.Second, delayFor(cfg, 10))
	assert.Equal(t, 4*time.Second, delayFor(cfg, 63), "overflow must clamp to the cap")
}
