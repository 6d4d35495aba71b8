// Package schedule delivers deferred actions through two independent
// mechanisms: a push path fed by store key expirations (near-instant, lossy
// across downtime) and a pull path polling time-ordered due queues (fixed
// small latency, survives downtime). Both treat "target no longer exists" as
// success, so they can cover the same action without double-firing effects.
package schedule

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/doormanhq/doorman/internal/kv"
)

// Entry is one due-queue item handed to the dispatch callback.
type Entry struct {
	ID      string
	Due     time.Time
	Payload []byte
}

// DueQueue is a time-ordered structure mapping payloads to due timestamps.
// Keys sort by due time, so "pop everything due" is a single bounded scan and
// delete inside one transaction.
type DueQueue struct {
	store *kv.Store
	name  string
}

func NewDueQueue(store *kv.Store, name string) *DueQueue {
	return &DueQueue{store: store, name: name}
}

func (q *DueQueue) Name() string { return q.name }

// Add schedules payload for delivery at due. The entry also carries a TTL
// safety net of one hour past due so an abandoned queue cannot grow forever.
func (q *DueQueue) Add(payload []byte, due time.Time) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("mint due entry id: %w", err)
	}
	key := kv.DueKey(q.name, uint64(due.UnixNano()), id)
	ttl := time.Until(due) + time.Hour
	return q.store.Update(func(txn *badger.Txn) error {
		return q.store.SetTTL(txn, key, payload, ttl)
	})
}

// PopDue atomically removes and returns every entry with a due time at or
// before now. An empty result is normal: another popper may have claimed the
// batch first.
func (q *DueQueue) PopDue(now time.Time) ([]Entry, error) {
	prefix := kv.DuePrefix(q.name)
	bound := kv.DueBound(q.name, uint64(now.UnixNano()))
	var entries []Entry
	err := q.store.Update(func(txn *badger.Txn) error {
		entries = entries[:0]
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key(), bound) >= 0 {
				break
			}
			dueNs, id, ok := kv.SplitDueKey(q.name, item.Key())
			if !ok {
				continue
			}
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, Entry{
				ID:      id,
				Due:     time.Unix(0, int64(dueNs)),
				Payload: payload,
			})
			keys = append(keys, item.KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pop due entries from %s: %w", q.name, err)
	}
	return entries, nil
}

// Len counts queued entries. Admin surface only.
func (q *DueQueue) Len() (int, error) {
	var n int
	err := q.store.ScanPrefix(kv.DuePrefix(q.name), func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}
