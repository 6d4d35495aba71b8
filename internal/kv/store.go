package kv

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// maxTxnRetries bounds optimistic-concurrency retries on commit conflict.
const maxTxnRetries = 16

// Options configures a Store.
type Options struct {
	// Dir is the Badger directory. Ignored when InMemory is set.
	Dir string
	// InMemory runs the store without any files. Used by tests.
	InMemory bool
	// SyncWrites forces an fsync per write batch.
	SyncWrites bool
	// WatchPrefixes are key prefixes whose expirations are delivered on the
	// watcher channel. The watcher state is rebuilt from a prefix scan on open.
	WatchPrefixes []string
}

// Store wraps a Badger database with the key-space helpers, TTL-aware
// transactions, and the expiration watcher the rest of doorman builds on.
// It is the single source of truth: every mutation that spans more than one
// key runs inside one Update transaction.
type Store struct {
	db      *badger.DB
	watcher *expiryWatcher
}

// Open creates or opens the store. When opts.WatchPrefixes is non-empty the
// expiry watcher is started and primed from a scan of those prefixes, so
// trigger keys written before a restart still fire.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	bopts.Logger = nil
	bopts.SyncWrites = opts.SyncWrites
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	s := &Store{db: db}
	if len(opts.WatchPrefixes) > 0 {
		s.watcher = newExpiryWatcher(s, opts.WatchPrefixes)
		if err := s.watcher.prime(); err != nil {
			db.Close()
			return nil, fmt.Errorf("prime expiry watcher: %w", err)
		}
		s.watcher.start()
	}
	return s, nil
}

// Close stops the watcher and closes the database.
func (s *Store) Close() error {
	if s.watcher != nil {
		s.watcher.stop()
	}
	return s.db.Close()
}

// View runs a read-only transaction.
func (s *Store) View(fn func(txn *badger.Txn) error) error {
	return s.db.View(fn)
}

// Update runs a read-write transaction, retrying on commit conflict so
// concurrent callers against the same keys serialize instead of failing.
func (s *Store) Update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
	return fmt.Errorf("update aborted after %d conflicts: %w", maxTxnRetries, err)
}

// SetTTL writes key=val with a TTL inside txn and, when the key falls under a
// watched prefix, tracks its deadline for the expiry watcher. Tracking before
// commit can produce a spurious event for an aborted transaction; consumers
// treat "key no longer exists" as resolved, so that is harmless.
func (s *Store) SetTTL(txn *badger.Txn, key, val []byte, ttl time.Duration) error {
	if err := txn.SetEntry(badger.NewEntry(key, val).WithTTL(ttl)); err != nil {
		return err
	}
	if s.watcher != nil {
		s.watcher.track(key, time.Now().Add(ttl))
	}
	return nil
}

// Get copies the value at key. Returns badger.ErrKeyNotFound for missing or
// expired keys.
func (s *Store) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// Exists reports whether key is present and unexpired.
func (s *Store) Exists(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Expirations returns the watcher channel. Nil when no prefixes are watched.
func (s *Store) Expirations() <-chan ExpiredKey {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.events
}

// ScanPrefix calls fn for every live key under prefix in key order.
func (s *Store) ScanPrefix(prefix []byte, fn func(key, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.Valid(); it.Next() {
			item := it.Item()
			if !bytes.HasPrefix(item.Key(), prefix) {
				break
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}
