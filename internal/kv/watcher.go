package kv

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ExpiredKey is one key-expiration notification.
type ExpiredKey struct {
	Key []byte
	At  time.Time
}

// expiryWatcher turns TTL deadlines on watched keys into push notifications.
// Deadlines come from SetTTL calls and, after a restart, from a prefix scan of
// ExpiresAt. When a deadline passes the watcher confirms the key is actually
// gone before emitting; a key whose TTL was extended is simply re-queued.
//
// Events fired while no subscriber is running are dropped; the due-queue
// poller is the backstop for anything that must not be missed.
type expiryWatcher struct {
	store    *Store
	prefixes [][]byte
	events   chan ExpiredKey

	mu      sync.Mutex
	pending deadlineHeap
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
}

type deadline struct {
	key []byte
	at  time.Time
}

func newExpiryWatcher(s *Store, prefixes []string) *expiryWatcher {
	w := &expiryWatcher{
		store:  s,
		events: make(chan ExpiredKey, 64),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, p := range prefixes {
		w.prefixes = append(w.prefixes, []byte(p))
	}
	return w
}

// prime rebuilds the deadline heap from the live keys under every watched
// prefix so triggers written before a restart still fire.
func (w *expiryWatcher) prime() error {
	return w.store.View(func(txn *badger.Txn) error {
		for _, prefix := range w.prefixes {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				exp := item.ExpiresAt()
				if exp == 0 {
					continue
				}
				w.track(item.KeyCopy(nil), time.Unix(int64(exp), 0))
			}
			it.Close()
		}
		return nil
	})
}

func (w *expiryWatcher) start() {
	go w.run()
}

func (w *expiryWatcher) stop() {
	close(w.quit)
	<-w.done
}

// track records a deadline for key if it falls under a watched prefix.
func (w *expiryWatcher) track(key []byte, at time.Time) {
	if !w.watched(key) {
		return
	}
	w.mu.Lock()
	heap.Push(&w.pending, deadline{key: append([]byte(nil), key...), at: at})
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *expiryWatcher) watched(key []byte) bool {
	for _, p := range w.prefixes {
		if len(key) >= len(p) && string(key[:len(p)]) == string(p) {
			return true
		}
	}
	return false
}

func (w *expiryWatcher) run() {
	defer close(w.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		next, ok := w.peek()
		if !ok {
			select {
			case <-w.quit:
				return
			case <-w.wake:
				continue
			}
		}
		wait := time.Until(next.at)
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-w.quit:
				return
			case <-w.wake:
				continue
			case <-timer.C:
			}
		}
		w.fire()
	}
}

func (w *expiryWatcher) peek() (deadline, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return deadline{}, false
	}
	return w.pending[0], true
}

// fire pops every due deadline and emits events for keys that are truly gone.
// A key still present had its TTL extended; re-queue it at the new deadline.
func (w *expiryWatcher) fire() {
	now := time.Now()
	for {
		w.mu.Lock()
		if len(w.pending) == 0 || w.pending[0].at.After(now) {
			w.mu.Unlock()
			return
		}
		d := heap.Pop(&w.pending).(deadline)
		w.mu.Unlock()

		exp, err := w.expiresAt(d.key)
		if err != nil {
			slog.Warn("expiry watcher read failed", "key", string(d.key), "error", err)
			continue
		}
		if exp != nil {
			w.track(d.key, *exp)
			continue
		}
		select {
		case w.events <- ExpiredKey{Key: d.key, At: d.at}:
		case <-w.quit:
			return
		default:
			slog.Warn("expiry event dropped; subscriber not keeping up", "key", string(d.key))
		}
	}
}

// expiresAt returns the key's live deadline, or nil when the key is absent or
// already expired.
func (w *expiryWatcher) expiresAt(key []byte) (*time.Time, error) {
	var out *time.Time
	err := w.store.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if exp := item.ExpiresAt(); exp != 0 {
			t := time.Unix(int64(exp), 0)
			if t.After(time.Now()) {
				out = &t
			}
		}
		return nil
	})
	return out, err
}

// deadlineHeap is a min-heap ordered by deadline time.
type deadlineHeap []deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)        { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}
