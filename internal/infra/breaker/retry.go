package breaker

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig controls exponential backoff.
type RetryConfig struct {
	MaxRetries   uint64        `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// DefaultRetryConfig returns 3 retries starting at 100ms, doubling up to 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

func (c RetryConfig) backoff() retry.Backoff {
	initial := c.InitialDelay
	if initial <= 0 {
		initial = DefaultRetryConfig().InitialDelay
	}
	b := retry.NewExponential(initial)
	if c.MaxDelay > 0 {
		b = retry.WithCappedDuration(c.MaxDelay, b)
	}
	return retry.WithMaxRetries(c.MaxRetries, b)
}

// Retry calls fn until it succeeds, the retry budget is spent, or ctx is
// done. fn is invoked at most MaxRetries+1 times. Breaker-open errors are
// returned immediately: retrying into an open breaker only burns the budget.
// The last error is returned when every attempt fails.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, config.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || IsOpen(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}
