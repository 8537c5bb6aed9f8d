// Package ratelimit gates inbound requests with fixed-window counting
// per client key. A window admits at most MaxRequests; the counter
// increments even on rejection, and stale counters are purged by a
// periodic sweep independent of request traffic.
//
// Fixed windows permit bursts of up to twice the nominal rate at
// window boundaries. That is accepted here; see DESIGN.md.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrUnknownPolicy = errors.New("unknown rate policy")

// Policy is one (window, max requests) configuration. Policies are
// selected by the caller per route class; the limiter itself is
// policy-agnostic on each call.
type Policy struct {
	Name        string
	Window      time.Duration
	MaxRequests int
}

// Decision is the outcome of one Check call. RetryAfter is set only
// on rejection and tells the caller how long until a fresh window.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter applies named policies over an injectable counter store.
// Safe for concurrent use.
type Limiter struct {
	store    CounterStore
	policies map[string]Policy
}

func New(store CounterStore, policies map[string]Policy) *Limiter {
	return &Limiter{store: store, policies: policies}
}

// Check records one request for key under the named policy and
// decides whether it is admitted. The counter is incremented even
// when the request is rejected.
func (l *Limiter) Check(ctx context.Context, key, policyName string) (Decision, error) {
	policy, ok := l.policies[policyName]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, policyName)
	}

	// Namespace by policy so the same client key tracked under two
	// policies never shares a counter.
	count, resetAt, err := l.store.Increment(ctx, policyName+":"+key, policy.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("increment counter: %w", err)
	}

	if count > policy.MaxRequests {
		retryAfter := time.Until(resetAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true, Remaining: policy.MaxRequests - count}, nil
}

// StartSweeper purges stale counters every interval until ctx is done.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("rate limit sweeper started",
		slog.String("code", "RL_SWEEP_START"),
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("rate limit sweeper shutting down", slog.String("code", "RL_SWEEP_STOP"))
			return
		case now := <-ticker.C:
			if err := l.store.Sweep(ctx, now); err != nil {
				slog.Error("rate limit sweep failed", slog.String("code", "RL_SWEEP_ERR"), slog.Any("error", err))
			}
		}
	}
}
