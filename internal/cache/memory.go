// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/trackgate/internal/metrics"
)

// memoryStore is the process-local backend. A plain map under an RWMutex is
// sufficient at the entry counts this cache sees; eviction walks entries by
// creation time, oldest first.
type memoryStore struct {
	cfg Config

	mu      sync.RWMutex
	entries map[string]*Entry
	size    int64

	hits   atomic.Uint64
	misses atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

func newMemoryStore(cfg Config) *memoryStore {
	s := &memoryStore{
		cfg:     cfg,
		entries: make(map[string]*Entry),
		stop:    make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go s.sweepLoop()
	}
	return s
}

func (s *memoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses.Add(1)
		return nil, ErrNotFound
	}
	s.hits.Add(1)
	return e.Clone(), nil
}

func (s *memoryStore) Set(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[e.Key]; ok {
		s.size -= old.Size()
	}
	s.entries[e.Key] = e
	s.size += e.Size()

	s.evictLocked()
	metrics.CacheSizeBytes.Set(float64(s.size))
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
	metrics.CacheSizeBytes.Set(float64(s.size))
	return nil
}

func (s *memoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			s.deleteLocked(key)
			n++
		}
	}
	metrics.CacheSizeBytes.Set(float64(s.size))
	return n, nil
}

func (s *memoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry)
	s.size = 0
	metrics.CacheSizeBytes.Set(0)
	return nil
}

func (s *memoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *memoryStore) SizeBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *memoryStore) Stats() Stats {
	s.mu.RLock()
	entries := len(s.entries)
	size := s.size
	s.mu.RUnlock()
	return newStats(entries, size, s.hits.Load(), s.misses.Load())
}

func (s *memoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// deleteLocked removes one entry and adjusts the size accounting.
// Must be called with the write lock held.
func (s *memoryStore) deleteLocked(key string) {
	if e, ok := s.entries[key]; ok {
		s.size -= e.Size()
		delete(s.entries, key)
	}
}

// evictLocked removes oldest entries until the store fits its size budget.
// Must be called with the write lock held.
func (s *memoryStore) evictLocked() {
	if s.cfg.MaxSize <= 0 || s.size <= s.cfg.MaxSize {
		return
	}

	ordered := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	for _, e := range ordered {
		if s.size <= s.cfg.MaxSize {
			break
		}
		s.deleteLocked(e.Key)
		metrics.CacheEvictions.WithLabelValues("size").Inc()
	}
}

// sweepLoop periodically removes expired entries. Offline mode skips
// expiry-based removal so stale entries stay available as a fallback.
func (s *memoryStore) sweepLoop() {
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

func (s *memoryStore) sweep() {
	if s.cfg.OfflineMode {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if e.Expired() {
			s.deleteLocked(key)
			metrics.CacheEvictions.WithLabelValues("expired").Inc()
		}
	}
	metrics.CacheSizeBytes.Set(float64(s.size))
}
