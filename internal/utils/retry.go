// internal/utils/retry.go

package utils

import (
	"context"
	"math"
	"time"
)

// Clock abstracts time for retry scheduling so tests can run
// deterministically without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock returns the real clock.
func SystemClock() Clock { return systemClock{} }

// RetryPolicy is an explicit bounded-retry schedule: an operation runs at
// most MaxRetries+1 times with exponential backoff between attempts. Only
// retryable errors (per IsRetryableError) are retried.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Clock         Clock
	Logger        Logger
}

// DefaultRetryPolicy matches the bounds used for network operations:
// two retries, exponential backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Delay returns the backoff delay preceding the given retry attempt
// (attempt 0 is the first retry).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Execute runs fn, retrying retryable failures per the policy. It returns
// the last error once attempts are exhausted, or the first non-retryable
// error immediately. Context cancellation aborts between attempts.
func (p RetryPolicy) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	clock := p.Clock
	if clock == nil {
		clock = systemClock{}
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) {
			return lastErr
		}
		if attempt == p.MaxRetries {
			break
		}

		delay := p.Delay(attempt)
		if p.Logger != nil {
			p.Logger.Warnf("%s failed (attempt %d/%d), retrying in %s: %v",
				operation, attempt+1, p.MaxRetries+1, delay, lastErr)
		}
		if err := clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}
