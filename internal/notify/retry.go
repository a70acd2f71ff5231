package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig defines retry behavior for deliveries.
type RetryConfig struct {
	MaxRetries     int           // retries after the first attempt, 0 = none
	InitialBackoff time.Duration // wait before the first retry
	MaxBackoff     time.Duration // cap on any single wait
	BackoffFactor  float64       // growth per retry
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// newBackOff maps cfg onto an exponential policy with ±25% jitter.
func newBackOff(cfg RetryConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxInterval = cfg.MaxBackoff
	bo.Multiplier = cfg.BackoffFactor
	bo.RandomizationFactor = 0.25
	return bo
}

// withRetry runs fn until it succeeds, fails permanently or runs out of
// retries.
func withRetry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, operation string, fn func(context.Context) error) error {
	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		return struct{}{}, fn(ctx)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(newBackOff(cfg)),
		backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("delivery failed, retrying",
				"operation", operation,
				"attempt", attempts,
				"max_attempts", cfg.MaxRetries+1,
				"backoff", next,
				"error", err,
			)
		}),
	)
	switch {
	case err == nil && attempts > 1:
		logger.Info("delivery succeeded after retry", "operation", operation, "attempt", attempts)
	case err != nil && attempts > cfg.MaxRetries:
		logger.Warn("max retries exceeded", "operation", operation, "attempts", attempts, "error", err)
	}
	return err
}
