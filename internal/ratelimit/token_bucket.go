package ratelimit

import (
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/doormanhq/doorman/internal/kv"
)

// TokenBucket persists (tokens, lastRefillNs) per (action, subject). Each call
// refills elapsed*rate tokens capped at capacity, then admits and deducts one
// token when at least one is available. State is written back on every call,
// denials included, and the key TTL is refreshed to roughly twice the full
// refill time so idle subjects age out of the store.
type TokenBucket struct {
	store    *kv.Store
	capacity float64
	rate     float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

func NewTokenBucket(store *kv.Store, capacity, rate float64) *TokenBucket {
	ttl := time.Duration(2 * capacity / rate * float64(time.Second))
	if ttl < time.Second {
		ttl = time.Second
	}
	return &TokenBucket{store: store, capacity: capacity, rate: rate, ttl: ttl, now: time.Now}
}

func (l *TokenBucket) Allow(action string, subj kv.Subject) bool {
	key := kv.RateLimitKey("token", action, subj)
	now := l.now()
	var allowed bool
	err := l.store.Update(func(txn *badger.Txn) error {
		tokens := l.capacity
		last := now
		item, err := txn.Get(key)
		switch err {
		case nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(val) == 16 {
				tokens = kv.GetFloat64BE(val[:8])
				last = time.Unix(0, int64(kv.GetUint64BE(val[8:])))
			}
		case badger.ErrKeyNotFound:
			// Fresh bucket starts full.
		default:
			return err
		}
		if elapsed := now.Sub(last).Seconds(); elapsed > 0 {
			tokens += elapsed * l.rate
			if tokens > l.capacity {
				tokens = l.capacity
			}
		}
		allowed = tokens >= 1
		if allowed {
			tokens--
		}
		val := kv.PutFloat64BE(nil, tokens)
		val = kv.PutUint64BE(val, uint64(now.UnixNano()))
		return l.store.SetTTL(txn, key, val, l.ttl)
	})
	if err != nil {
		slog.Warn("token bucket limiter store unavailable; failing open",
			"action", action, "subject", subj, "error", err)
		return true
	}
	return allowed
}
