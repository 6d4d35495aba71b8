package ratelimit

import (
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/doormanhq/doorman/internal/kv"
)

// FixedWindow counts calls per (action, subject) in a TTL-bounded window.
// The call that takes the counter from 0 to 1 opens the window by setting the
// key's TTL; the counter keeps incrementing past the limit so the key records
// pressure, but only the first Limit calls are admitted.
type FixedWindow struct {
	store  *kv.Store
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewFixedWindow(store *kv.Store, limit int64, window time.Duration) *FixedWindow {
	return &FixedWindow{store: store, limit: limit, window: window, now: time.Now}
}

func (l *FixedWindow) Allow(action string, subj kv.Subject) bool {
	key := kv.RateLimitKey("fixed", action, subj)
	var allowed bool
	err := l.store.Update(func(txn *badger.Txn) error {
		var count uint64
		remaining := l.window
		item, err := txn.Get(key)
		switch err {
		case nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			count = kv.GetUint64BE(val)
			if exp := item.ExpiresAt(); exp != 0 {
				if r := time.Unix(int64(exp), 0).Sub(l.now()); r > 0 {
					remaining = r
				}
			}
		case badger.ErrKeyNotFound:
			// 0 -> 1 opens a fresh window.
		default:
			return err
		}
		count++
		allowed = count <= uint64(l.limit)
		return l.store.SetTTL(txn, key, kv.PutUint64BE(nil, count), remaining)
	})
	if err != nil {
		slog.Warn("fixed window limiter store unavailable; failing open",
			"action", action, "subject", subj, "error", err)
		return true
	}
	return allowed
}
