// Package ratelimit provides the distributed per-subject admission limiters.
//
// Every Allow call is exactly one store transaction: the read, the decision,
// and the write-back commit atomically, so concurrent callers for the same
// subject serialize at the store instead of racing a client-side
// read-modify-write. Decisions are never cached locally.
//
// Store-unavailable policy: all three algorithms fail OPEN. A limiter that
// cannot reach the store logs a warning and admits the call. Verification
// still gates membership behind the challenge itself, so an unreachable store
// degrades to "unthrottled" rather than locking every user out.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/doormanhq/doorman/internal/kv"
)

// Limiter is the shared admission-control contract.
type Limiter interface {
	// Allow reports whether the (action, subject) pair may proceed now.
	Allow(action string, subj kv.Subject) bool
}

// Algorithm names accepted by New.
const (
	AlgoFixedWindow = "fixed_window"
	AlgoTokenBucket = "token_bucket"
	AlgoLeakyBucket = "leaky_bucket"
)

// Config carries tuning for whichever algorithm is selected.
type Config struct {
	// Fixed window.
	Limit  int64
	Window time.Duration
	// Token bucket.
	Capacity   float64
	RefillRate float64 // tokens per second
	// Leaky bucket.
	Interval time.Duration
}

// DefaultConfig returns the tuning used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Limit:      3,
		Window:     time.Minute,
		Capacity:   5,
		RefillRate: 0.1,
		Interval:   20 * time.Second,
	}
}

// New constructs the named limiter backed by store.
func New(store *kv.Store, algo string, cfg Config) (Limiter, error) {
	switch algo {
	case AlgoFixedWindow:
		return NewFixedWindow(store, cfg.Limit, cfg.Window), nil
	case AlgoTokenBucket:
		return NewTokenBucket(store, cfg.Capacity, cfg.RefillRate), nil
	case AlgoLeakyBucket:
		return NewLeakyBucket(store, cfg.Interval), nil
	default:
		return nil, fmt.Errorf("unknown rate limiter algorithm %q", algo)
	}
}
