// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package cache implements the read-through response cache backing the
// request pipeline.
//
// Two backends exist behind one Store interface: a process-local memory
// store and a durable BadgerDB store that survives restarts. Entries carry
// their own creation time and TTL rather than relying on backend-level
// expiry, because offline mode deliberately serves entries past their TTL
// when the upstream server is unreachable. Callers decide freshness via
// Entry.Expired.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when no entry exists for the key.
var ErrNotFound = errors.New("cache: entry not found")

// entryOverhead approximates per-entry bookkeeping cost charged against the
// size budget on top of key and payload bytes.
const entryOverhead = 64

// Backend selects the storage backend for a Store.
type Backend string

const (
	// BackendMemory keeps entries in process memory only.
	BackendMemory Backend = "memory"

	// BackendBadger persists entries in a BadgerDB at a configured path.
	BackendBadger Backend = "badger"
)

// Config controls a Store.
type Config struct {
	// Backend selects memory or badger storage.
	Backend Backend

	// Path is the BadgerDB directory. Required for BackendBadger.
	Path string

	// DefaultTTL applies when neither the request nor the endpoint table
	// specifies a TTL.
	DefaultTTL time.Duration

	// MaxSize bounds the total size of cached entries in bytes. Zero means
	// unbounded. When exceeded, oldest entries are evicted first.
	MaxSize int64

	// OfflineMode retains expired entries so they can be served stale when
	// the upstream is unreachable. Without it, expired entries are removed
	// by the background sweep.
	OfflineMode bool

	// EndpointTTLs maps path prefixes to TTLs. The longest matching prefix
	// wins.
	EndpointTTLs map[string]time.Duration

	// SweepInterval is how often the background sweep runs. Zero disables
	// sweeping.
	SweepInterval time.Duration
}

// TTLFor resolves the TTL for a path: the longest matching prefix in the
// endpoint table, falling back to the default.
func (c Config) TTLFor(path string) time.Duration {
	ttl := c.DefaultTTL
	best := -1
	for prefix, t := range c.EndpointTTLs {
		if len(prefix) > best && strings.HasPrefix(path, prefix) {
			best = len(prefix)
			ttl = t
		}
	}
	return ttl
}

// Entry is one cached response.
type Entry struct {
	Key       string        `json:"key"`
	Status    int           `json:"status"`
	Header    http.Header   `json:"header,omitempty"`
	ETag      string        `json:"etag,omitempty"`
	Payload   []byte        `json:"payload"`
	CreatedAt time.Time     `json:"createdAt"`
	TTL       time.Duration `json:"ttl"`
}

// Clone returns an independent copy. Stores hand out clones so callers can
// never mutate a cached entry in place.
func (e *Entry) Clone() *Entry {
	clone := *e
	if e.Payload != nil {
		clone.Payload = make([]byte, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}
	return &clone
}

// Expired reports whether the entry is past its TTL. A zero TTL never
// expires.
func (e *Entry) Expired() bool {
	if e.TTL <= 0 {
		return false
	}
	return time.Since(e.CreatedAt) > e.TTL
}

// Size is the entry's cost against the store's size budget.
func (e *Entry) Size() int64 {
	return int64(len(e.Key)) + int64(len(e.Payload)) + entryOverhead
}

// Key derives the cache key for a request. Query parameters are encoded in
// sorted order so equivalent requests with differently ordered parameters
// share one entry.
func Key(method, path string, query url.Values) string {
	if len(query) == 0 {
		return method + " " + path
	}
	return method + " " + path + "?" + query.Encode()
}

// Stats is a point-in-time snapshot of a store's usage. Hit and miss
// counts accumulate over the store's lifetime.
type Stats struct {
	Entries   int
	SizeBytes int64
	Hits      uint64
	Misses    uint64
	HitRatio  float64
}

func newStats(entries int, size int64, hits, misses uint64) Stats {
	st := Stats{Entries: entries, SizeBytes: size, Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		st.HitRatio = float64(hits) / float64(total)
	}
	return st
}

// Store is the cache contract shared by both backends. Implementations are
// safe for concurrent use.
type Store interface {
	// Get returns the entry for key, expired or not. Absent keys return
	// ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores the entry, evicting oldest entries if the size budget is
	// exceeded.
	Set(ctx context.Context, e *Entry) error

	// Delete removes the entry for key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every entry whose key starts with prefix and
	// returns how many were removed. Used for invalidation after mutations.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Len returns the number of stored entries.
	Len() int

	// SizeBytes returns the total size charged against the budget.
	SizeBytes() int64

	// Stats reports entry count, charged size and the lookup hit ratio.
	Stats() Stats

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}

// New creates a Store for the configured backend.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendBadger:
		if cfg.Path == "" {
			return nil, fmt.Errorf("cache: badger backend requires a path")
		}
		return newBadgerStore(cfg)
	case BackendMemory, "":
		return newMemoryStore(cfg), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
