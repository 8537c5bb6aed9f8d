package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff handles exponential backoff calculations with jitter.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64
}

// DefaultBackoff returns a standard backoff configuration.
func DefaultBackoff() *Backoff {
	return &Backoff{
		BaseDelay: 1 * time.Second,
		MaxDelay:  5 * time.Minute,
		Factor:    2.0,
		Jitter:    0.2,
	}
}

// NextDelay calculates the next delay based on the attempt count.
// Delays are monotonically non-decreasing (before jitter) and capped
// at MaxDelay.
func (b *Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.BaseDelay) * math.Pow(b.Factor, float64(attempt-1))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	// Add jitter
	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
		delay += jitter
	}

	// Enforce 100ms minimum floor
	if delay < float64(100*time.Millisecond) {
		delay = float64(100 * time.Millisecond)
	}

	return time.Duration(delay)
}
