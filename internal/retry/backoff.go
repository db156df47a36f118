// Package retry implements bounded exponential-backoff retries for provider
// API calls. Only transient failures are retried; absence (404) is surfaced
// immediately by the caller and never passes through here.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	MaxRetries int           `json:"max_retries"` // retry attempts after the first try (default: 3)
	BaseDelay  time.Duration `json:"base_delay"`  // delay before the first retry (default: 1s)
	MaxDelay   time.Duration `json:"max_delay"`   // ceiling on any single delay (default: 30s)
	Multiplier float64       `json:"multiplier"`  // exponential growth factor (default: 2.0)
	Jitter     bool          `json:"jitter"`      // add random jitter to avoid thundering herd
}

// DefaultConfig returns a retry configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// ProviderConfig returns a retry configuration tuned for hosting-provider
// REST calls, where rate limits recover on the order of tens of seconds.
func ProviderConfig(maxRetries int) Config {
	c := DefaultConfig()
	if maxRetries >= 0 {
		c.MaxRetries = maxRetries
	}
	return c
}

// Do executes operation with exponential backoff, retrying only while
// shouldRetry reports the returned error as transient. It returns the last
// error when attempts are exhausted, or ctx.Err() on cancellation.
func Do(ctx context.Context, config Config, op string, shouldRetry func(error) bool, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 0 {
				log.Debug().Str("op", op).Int("attempt", attempt+1).Msg("operation succeeded after retry")
			}
			return nil
		}

		if attempt >= config.MaxRetries || !shouldRetry(lastErr) {
			return lastErr
		}

		delay := calculateDelay(config, attempt)
		log.Debug().
			Str("op", op).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxRetries+1).
			Dur("delay", delay).
			Err(lastErr).
			Msg("operation failed, backing off before retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// calculateDelay computes baseDelay * multiplier^attempt, capped at MaxDelay,
// with up to 10% jitter either way.
func calculateDelay(config Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsTransient reports whether an error message indicates a failure worth
// retrying: network trouble, timeouts, or provider throttling.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	transient := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"no such host",
		"network unreachable",
		"broken pipe",
	}

	for _, marker := range transient {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
