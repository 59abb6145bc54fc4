// Package retry provides bounded retry with incrementing backoff for
// the engine's externally-fallible calls (vision API, browser actions).
package retry

import (
	"context"
	"fmt"
	"time"
)

// Class categorizes a failure for retry dispatch.
type Class int

const (
	// ClassFatal stops retrying immediately.
	ClassFatal Class = iota

	// ClassRetryable retries with the standard incrementing delay.
	ClassRetryable

	// ClassRateLimited retries with a doubled delay; rate limits are
	// always retried while attempts remain.
	ClassRateLimited
)

// Policy bounds a retry loop. Every path through Do terminates after at
// most MaxAttempts attempts; there is no unbounded retry.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// DelayStep is added per subsequent attempt (2s, 3s, 4s, ...).
	DelayStep time.Duration
}

// DefaultPolicy matches the engine's vision-call defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		DelayStep:   time.Second,
	}
}

// Classifier maps an operation error to a retry class.
type Classifier func(error) Class

// Do runs op until it succeeds, fails fatally, or the attempt budget is
// exhausted. classify decides how each failure is handled; a nil
// classifier treats every error as retryable.
func (p Policy) Do(ctx context.Context, classify Classifier, op func(attempt int) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if classify == nil {
		classify = func(error) Class { return ClassRetryable }
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}

		class := classify(lastErr)
		if class == ClassFatal {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.BaseDelay + time.Duration(attempt-1)*p.DelayStep
		if class == ClassRateLimited {
			delay *= 2
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, lastErr)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
