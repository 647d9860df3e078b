package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig bounds a connect-with-backoff attempt sequence. It mirrors the
// STT/TTS connect discipline: a small fixed number of attempts with
// exponentially growing backoff, then give up.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first; default 3
	BaseDelay   time.Duration // delay before the second attempt; default 1s
	Factor      float64       // backoff multiplier; default 1.5
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 1.5
	}
	return c
}

// ConnectWithBackoff calls connect up to cfg.MaxAttempts times, waiting
// cfg.BaseDelay*cfg.Factor^(attempt-1) between attempts. It returns the
// first successful value, or the last error once attempts are exhausted.
// On every failed attempt (including the last), cleanup, if non-nil, is
// invoked with the attempt's error so a partially-open resource (socket,
// handler) can be released without leaking.
func ConnectWithBackoff[T any](ctx context.Context, cfg RetryConfig, connect func(context.Context) (T, error), cleanup func(error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := connect(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if cleanup != nil {
			cleanup(err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Factor)
	}
	return zero, fmt.Errorf("resilience: connect failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
