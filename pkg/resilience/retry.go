// Package resilience provides retry with capped exponential backoff for the
// geographic data store client.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/citygrid/transit-sim/pkg/logger"
	"go.uber.org/zap"
)

// RetryConfig defines the retry behavior for an operation.
type RetryConfig struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
	// BackoffMultiplier is the exponential growth factor, typically 2.0.
	BackoffMultiplier float64
	// EnableJitter randomizes the delay to avoid synchronized retries.
	EnableJitter bool
	// RetryableChecker decides whether an error is worth retrying. Nil means
	// retry everything.
	RetryableChecker func(error) bool
}

// DefaultRetryConfig returns the configuration used for data store fetches.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
	}
}

// Retry runs op until it succeeds, the attempts are exhausted, or the context
// is cancelled. The last error is returned on failure.
func Retry(ctx context.Context, config RetryConfig, name string, op func(ctx context.Context) error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry",
					zap.String("operation", name),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}
		lastErr = err

		if config.RetryableChecker != nil && !config.RetryableChecker(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("operation failed after all retry attempts",
				zap.String("operation", name),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			break
		}

		backoff := backoffFor(attempt, config)
		logger.Debug("retrying after backoff",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

func backoffFor(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt-1))
	if max := float64(config.MaxBackoff); backoff > max {
		backoff = max
	}
	if config.EnableJitter {
		// Up to 25% of the delay, either direction.
		backoff += backoff * 0.25 * (2*rand.Float64() - 1)
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}
