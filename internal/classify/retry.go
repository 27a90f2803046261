package classify

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffSchedule produces the per-attempt wait duration for a retryable
// category, honoring base*2^k with jitter in [0.5, 1.5], capped at the
// probe timeout.
type BackoffSchedule struct {
	base *backoff.ExponentialBackOff
	cap  time.Duration
}

// NewBackoffSchedule builds a schedule rooted at baseDelay, capped by cap
// (normally the probe's configured timeout).
func NewBackoffSchedule(baseDelay, cap time.Duration) *BackoffSchedule {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0 // we apply our own [0.5, 1.5] jitter below
	b.MaxInterval = cap
	b.MaxElapsedTime = 0 // caller bounds attempts, not elapsed time
	b.Reset()
	return &BackoffSchedule{base: b, cap: cap}
}

// Next returns the wait duration before the next attempt, with jitter
// applied and bounded by cap.
func (s *BackoffSchedule) Next() time.Duration {
	d := s.base.NextBackOff()
	if d == backoff.Stop {
		d = s.cap
	}
	jitter := 0.5 + rand.Float64()
	scaled := time.Duration(float64(d) * jitter)
	if scaled > s.cap {
		scaled = s.cap
	}
	return scaled
}

// Sleep waits for d, honoring context cancellation. Returns ctx.Err() if
// the context is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ShouldRetry reports whether attempt (0-indexed, about to be made) should
// proceed for the given category and configured max retries.
func ShouldRetry(category Category, attempt, maxRetries int) bool {
	if attempt >= maxRetries {
		return false
	}
	return PolicyFor(category).Retryable
}
