// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/trackgate/internal/logging"
	"github.com/tomtom215/trackgate/internal/metrics"
)

// keyPrefix namespaces cache entries inside the BadgerDB so the database can
// be shared with other stores later without key collisions.
const keyPrefix = "trackgate:cache:"

// badgerStore is the durable backend. Entries are stored as JSON under a
// namespaced key. Size and count are tracked in memory, rebuilt by scanning
// the database at open, so budget checks never require a full iteration.
type badgerStore struct {
	cfg Config
	db  *badger.DB

	mu    sync.Mutex
	size  int64
	count int

	hits   atomic.Uint64
	misses atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

func newBadgerStore(cfg Config) (*badgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for cache: %w", err)
	}

	s := &badgerStore{
		cfg:  cfg,
		db:   db,
		stop: make(chan struct{}),
	}
	if err := s.rebuildAccounting(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.SweepInterval > 0 {
		go s.sweepLoop()
	}
	return s, nil
}

func (s *badgerStore) Get(ctx context.Context, key string) (*Entry, error) {
	var entry Entry
	dbKey := []byte(keyPrefix + key)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get cache entry: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		s.misses.Add(1)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		// A corrupted entry is removed and reported absent rather than
		// failing the lookup.
		logging.Warn().Err(err).Str("key", key).Msg("Dropping unreadable cache entry")
		_ = s.Delete(ctx, key)
		return nil, ErrNotFound
	}
	s.hits.Add(1)
	return &entry, nil
}

func (s *badgerStore) Set(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, hadOld := s.lookupSize(e.Key)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+e.Key), data)
	})
	if err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}

	if hadOld {
		s.size -= old
	} else {
		s.count++
	}
	s.size += e.Size()

	if err := s.evictLocked(); err != nil {
		return err
	}
	metrics.CacheSizeBytes.Set(float64(s.size))
	return nil
}

func (s *badgerStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteLocked(key); err != nil {
		return err
	}
	metrics.CacheSizeBytes.Set(float64(s.size))
	return nil
}

func (s *badgerStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.scanKeys(prefix)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := s.deleteLocked(key); err != nil {
			return 0, err
		}
	}
	metrics.CacheSizeBytes.Set(float64(s.size))
	return len(keys), nil
}

func (s *badgerStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.scanKeys("")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.deleteLocked(key); err != nil {
			return err
		}
	}
	metrics.CacheSizeBytes.Set(0)
	return nil
}

func (s *badgerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *badgerStore) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *badgerStore) Stats() Stats {
	s.mu.Lock()
	entries := s.count
	size := s.size
	s.mu.Unlock()
	return newStats(entries, size, s.hits.Load(), s.misses.Load())
}

func (s *badgerStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.db.Close()
}

// lookupSize returns the budget cost of an existing entry, if present.
// Must be called with the lock held.
func (s *badgerStore) lookupSize(key string) (int64, bool) {
	var size int64
	found := false
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return nil
		}
		var e Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return nil
		}
		size = e.Size()
		found = true
		return nil
	})
	return size, found
}

// deleteLocked removes one entry and adjusts accounting.
// Must be called with the lock held.
func (s *badgerStore) deleteLocked(key string) error {
	old, hadOld := s.lookupSize(key)
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	if hadOld {
		s.size -= old
		s.count--
	}
	return nil
}

// scanKeys lists cache keys with the given logical prefix.
// Must be called with the lock held.
func (s *badgerStore) scanKeys(prefix string) ([]string, error) {
	var keys []string
	dbPrefix := []byte(keyPrefix + prefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(dbPrefix); it.ValidForPrefix(dbPrefix); it.Next() {
			keys = append(keys, string(it.Item().Key())[len(keyPrefix):])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan cache keys: %w", err)
	}
	return keys, nil
}

// scanEntries loads every entry. Unreadable values are skipped.
// Must be called with the lock held.
func (s *badgerStore) scanEntries() ([]*Entry, error) {
	var entries []*Entry
	dbPrefix := []byte(keyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(dbPrefix); it.ValidForPrefix(dbPrefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				continue
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan cache entries: %w", err)
	}
	return entries, nil
}

// rebuildAccounting recomputes size and count from the database at open.
func (s *badgerStore) rebuildAccounting() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.scanEntries()
	if err != nil {
		return err
	}
	s.size = 0
	s.count = len(entries)
	for _, e := range entries {
		s.size += e.Size()
	}
	metrics.CacheSizeBytes.Set(float64(s.size))
	return nil
}

// evictLocked removes oldest entries until the store fits its size budget.
// Must be called with the lock held.
func (s *badgerStore) evictLocked() error {
	if s.cfg.MaxSize <= 0 || s.size <= s.cfg.MaxSize {
		return nil
	}

	entries, err := s.scanEntries()
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	for _, e := range entries {
		if s.size <= s.cfg.MaxSize {
			break
		}
		if err := s.deleteLocked(e.Key); err != nil {
			return err
		}
		metrics.CacheEvictions.WithLabelValues("size").Inc()
	}
	return nil
}

// sweepLoop periodically removes expired entries and runs value log GC.
// Offline mode keeps expired entries available for stale fallback.
func (s *badgerStore) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *badgerStore) sweep() {
	if !s.cfg.OfflineMode {
		s.mu.Lock()
		entries, err := s.scanEntries()
		if err == nil {
			for _, e := range entries {
				if e.Expired() {
					if derr := s.deleteLocked(e.Key); derr == nil {
						metrics.CacheEvictions.WithLabelValues("expired").Inc()
					}
				}
			}
			metrics.CacheSizeBytes.Set(float64(s.size))
		}
		s.mu.Unlock()
	}

	// Reclaim value log space; ErrNoRewrite just means nothing to do.
	if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		logging.Debug().Err(err).Msg("Cache value log GC skipped")
	}
}
