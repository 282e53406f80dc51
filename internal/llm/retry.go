package llm

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig defines retry behavior for provider calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts per model (0 = no retries).
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Multiplier is the factor by which the delay grows after each retry.
	Multiplier float64
	// JitterFactor adds randomness to delays (0.0-1.0).
	JitterFactor float64
}

// DefaultRetryConfig returns the gateway's retry defaults: base 1s, doubling,
// capped at 4s, at most 3 retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay returns the backoff delay after the given retry (0-based),
// growing exponentially up to MaxDelay.
func (c RetryConfig) NextDelay(retry int) time.Duration {
	delay := c.InitialDelay
	for i := 0; i < retry; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if delay >= c.MaxDelay {
			delay = c.MaxDelay
			break
		}
	}
	return addJitter(delay, c.JitterFactor)
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// addJitter adds randomness to a duration. math/rand is fine here, jitter
// doesn't require cryptographic randomness.
func addJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	jitterRange := float64(d) * factor
	jitter := (rand.Float64() - 0.5) * 2 * jitterRange // #nosec G404
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		result = 0
	}
	return result
}
