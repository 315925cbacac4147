package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy returns the delay before retry number attempt (0-indexed)
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Multiplier per attempt up to
// MaxDelay, spread by ±Jitter so concurrent retries do not line up
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64 // 0.0-1.0
}

// WebhookBackoff paces outbound lifecycle webhook retries: ~1s, 2s, 4s, 8s,
// 16s, then 30s
func WebhookBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// LockBackoff paces distributed lock polling. Locked sections are short,
// so polling starts at 10ms and caps at 500ms.
func LockBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   500 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// NextDelay returns BaseDelay * Multiplier^attempt, capped and jittered
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		return eb.BaseDelay
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	spread := delay * eb.Jitter
	d := time.Duration(delay + (rand.Float64()*2-1)*spread)
	if d < 0 {
		return eb.BaseDelay
	}
	return d
}

// Wait sleeps for the strategy's delay before retry attempt, returning
// ctx's error if it ends first
func Wait(ctx context.Context, strategy BackoffStrategy, attempt int) error {
	return Sleep(ctx, strategy.NextDelay(attempt))
}

// Sleep pauses for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
