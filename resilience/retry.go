package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/agentuity/go-fallback/loader"
	"github.com/cockroachdb/errors"
)

// RetryConfig defines how failing calls are retried
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int

	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after every attempt
	BackoffMultiplier float64

	// Jitter spreads waits between 90% and 120% of the computed backoff
	Jitter bool

	// RetryableErrors decides which errors are worth another attempt
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a default configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries everything except an open circuit, a
// missing value and context errors.
func DefaultRetryableErrors(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCircuitBreakerOpen), errors.Is(err, loader.ErrNotFound):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// RetryStats describes the attempts made by RetryWithStats
type RetryStats struct {
	TotalAttempts   int
	TotalRetries    int
	SuccessfulCalls int
	TotalBackoff    time.Duration
	AverageBackoff  time.Duration
	LastError       error
}

// Retry calls fn until it succeeds, fails with a non retryable error, the
// retries are exhausted or ctx is done. The last error is returned.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// RetryWithStats is Retry, also reporting what it did.
func RetryWithStats(ctx context.Context, config RetryConfig, fn func() error) (RetryStats, error) {
	var stats RetryStats
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}
	for attempt := 0; ; attempt++ {
		stats.TotalAttempts++
		err := fn()
		if err == nil {
			stats.SuccessfulCalls++
			stats.LastError = nil
			return stats, nil
		}
		stats.LastError = err
		if attempt >= config.MaxRetries || !retryable(err) {
			return stats, err
		}

		backoff := calculateBackoff(attempt, config)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return stats, errors.WithSecondaryError(err, ctx.Err())
		case <-timer.C:
		}
		stats.TotalRetries++
		stats.TotalBackoff += backoff
		stats.AverageBackoff = stats.TotalBackoff / time.Duration(stats.TotalRetries)
	}
}

// ExponentialBackoff retries fn with doubling waits starting at initial.
func ExponentialBackoff(ctx context.Context, maxRetries int, initial time.Duration, fn func() error) error {
	return Retry(ctx, RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    initial,
		MaxBackoff:        time.Duration(math.MaxInt64),
		BackoffMultiplier: 2.0,
		RetryableErrors:   DefaultRetryableErrors,
	}, fn)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt))
	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	if config.Jitter {
		backoff *= 0.9 + rand.Float64()*0.3
	}
	return time.Duration(backoff)
}

// RetryWithCircuitBreaker retries fn through cb. Once the circuit opens the
// remaining retries are skipped, since ErrCircuitBreakerOpen is not retryable.
func RetryWithCircuitBreaker(ctx context.Context, config RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, fn)
	})
}
