package errors

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryConfig configures RetryWithConfig. Delays grow exponentially from
// InitialDelay and are capped at MaxDelay.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	RetryableErrors []ErrorCode

	// OnRetry, when set, is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig is tuned for chain RPC calls.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		RetryableErrors: []ErrorCode{
			ErrCodeNetwork,
			ErrCodeRPC,
			ErrCodeTimeout,
		},
	}
}

// RetryFunc is a function that can be retried
type RetryFunc func() error

// RetryWithConfig calls fn until it succeeds, returns a non-retryable error,
// or MaxAttempts is reached. Cancelling ctx stops the loop with ctx.Err().
func RetryWithConfig(ctx context.Context, fn RetryFunc, config *RetryConfig) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr, config.RetryableErrors) || attempt == config.MaxAttempts {
			break
		}

		delay := ExponentialBackoff(attempt, config.InitialDelay, config.MaxDelay)
		if config.OnRetry != nil {
			config.OnRetry(attempt, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if !isRetryableError(lastErr, config.RetryableErrors) {
		return lastErr
	}
	return WrapReconcileError(
		lastErr,
		ErrCodeInternal,
		"",
		"maximum retry attempts exceeded",
	).WithContext("attempts", config.MaxAttempts)
}

func isRetryableError(err error, retryableCodes []ErrorCode) bool {
	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		for _, code := range retryableCodes {
			if recErr.Code == code {
				return true
			}
		}
		return recErr.IsRetryable()
	}

	return IsRetryable(err)
}

// ExponentialBackoff returns baseDelay * 2^(attempt-1), capped at maxDelay.
func ExponentialBackoff(attempt int, baseDelay time.Duration, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
