package ratelimit

import (
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/doormanhq/doorman/internal/kv"
)

// LeakyBucket persists only the next-allowed timestamp per (action, subject).
// A call at or past that timestamp is admitted and pushes it one interval into
// the future; an early call is denied without mutating state, so hammering the
// limiter never extends the penalty.
type LeakyBucket struct {
	store    *kv.Store
	interval time.Duration
	now      func() time.Time
}

func NewLeakyBucket(store *kv.Store, interval time.Duration) *LeakyBucket {
	return &LeakyBucket{store: store, interval: interval, now: time.Now}
}

func (l *LeakyBucket) Allow(action string, subj kv.Subject) bool {
	key := kv.RateLimitKey("leaky", action, subj)
	now := l.now()
	var allowed bool
	err := l.store.Update(func(txn *badger.Txn) error {
		var next time.Time
		item, err := txn.Get(key)
		switch err {
		case nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(val) == 8 {
				next = time.Unix(0, int64(kv.GetUint64BE(val)))
			}
		case badger.ErrKeyNotFound:
			// First sighting of this subject: admit immediately.
		default:
			return err
		}
		if now.Before(next) {
			allowed = false
			return nil
		}
		allowed = true
		// Advance from now, not from the stale next-allowed time, so a long
		// idle period cannot bank a burst.
		val := kv.PutUint64BE(nil, uint64(now.Add(l.interval).UnixNano()))
		return l.store.SetTTL(txn, key, val, 2*l.interval)
	})
	if err != nil {
		slog.Warn("leaky bucket limiter store unavailable; failing open",
			"action", action, "subject", subj, "error", err)
		return true
	}
	return allowed
}
