package retry

import "time"

type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFactor      float64 // 0.0-1.0, percentage of jitter to add
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.2,
	}
}

// Policy answers retry questions for the webhook engine: whether
// another attempt is allowed and how long to wait before it.
type Policy struct {
	config Config
}

func NewPolicy(cfg Config) *Policy {
	return &Policy{config: cfg}
}

// ShouldRetry reports whether another attempt is permitted after
// `attempt` attempts have already been made.
func (p *Policy) ShouldRetry(attempt int) bool {
	return attempt < p.config.MaxAttempts
}

// NextDelay returns the backoff delay to apply after attempt number
// `attempt` (1-based) failed.
func (p *Policy) NextDelay(attempt int) time.Duration {
	backoff := DefaultBackoff()
	backoff.BaseDelay = p.config.InitialBackoff
	backoff.MaxDelay = p.config.MaxBackoff
	backoff.Factor = p.config.BackoffMultiplier
	backoff.Jitter = p.config.JitterFactor

	return backoff.NextDelay(attempt)
}

// MaxAttempts returns the maximum configured attempts.
func (p *Policy) MaxAttempts() int {
	return p.config.MaxAttempts
}
