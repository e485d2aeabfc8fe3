// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"
)

func TestKey_SortsQueryParameters(t *testing.T) {
	a := url.Values{}
	a.Set("from", "2026-01-01")
	a.Set("deviceId", "7")

	b := url.Values{}
	b.Set("deviceId", "7")
	b.Set("from", "2026-01-01")

	if Key("GET", "/api/positions", a) != Key("GET", "/api/positions", b) {
		t.Error("equivalent queries with different insertion order must share a key")
	}
}

func TestKey_NoQuery(t *testing.T) {
	got := Key("GET", "/api/devices", nil)
	if got != "GET /api/devices" {
		t.Errorf("key = %q", got)
	}
}

func TestConfig_TTLFor(t *testing.T) {
	cfg := Config{
		DefaultTTL: 5 * time.Minute,
		EndpointTTLs: map[string]time.Duration{
			"/api":           10 * time.Minute,
			"/api/positions": 30 * time.Second,
		},
	}

	if got := cfg.TTLFor("/api/positions"); got != 30*time.Second {
		t.Errorf("longest prefix TTL = %v, want 30s", got)
	}
	if got := cfg.TTLFor("/api/devices"); got != 10*time.Minute {
		t.Errorf("shorter prefix TTL = %v, want 10m", got)
	}
	if got := cfg.TTLFor("/session"); got != 5*time.Minute {
		t.Errorf("default TTL = %v, want 5m", got)
	}
}

func TestEntry_Expired(t *testing.T) {
	fresh := &Entry{CreatedAt: time.Now(), TTL: time.Minute}
	if fresh.Expired() {
		t.Error("fresh entry reported expired")
	}

	stale := &Entry{CreatedAt: time.Now().Add(-2 * time.Minute), TTL: time.Minute}
	if !stale.Expired() {
		t.Error("stale entry reported fresh")
	}

	eternal := &Entry{CreatedAt: time.Now().Add(-24 * time.Hour), TTL: 0}
	if eternal.Expired() {
		t.Error("zero-TTL entry must never expire")
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(Config{Backend: "redis"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNew_BadgerRequiresPath(t *testing.T) {
	if _, err := New(Config{Backend: BackendBadger}); err == nil {
		t.Error("expected error for badger backend without path")
	}
}

// storeFactories builds both backends so the contract tests run against each.
func storeFactories(t *testing.T, cfg Config) map[string]Store {
	t.Helper()

	stores := map[string]Store{}

	memCfg := cfg
	memCfg.Backend = BackendMemory
	stores["memory"] = newMemoryStore(memCfg)

	badgerCfg := cfg
	badgerCfg.Backend = BackendBadger
	badgerCfg.Path = t.TempDir()
	bs, err := newBadgerStore(badgerCfg)
	if err != nil {
		t.Fatalf("open badger store: %v", err)
	}
	stores["badger"] = bs

	return stores
}

func TestStore_RoundTrip(t *testing.T) {
	for name, s := range storeFactories(t, Config{}) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			ctx := context.Background()

			if _, err := s.Get(ctx, "GET /api/devices"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get on empty store = %v, want ErrNotFound", err)
			}

			e := &Entry{
				Key:       "GET /api/devices",
				Status:    200,
				Payload:   []byte(`[{"id":1}]`),
				CreatedAt: time.Now().Truncate(time.Millisecond),
				TTL:       time.Minute,
			}
			if err := s.Set(ctx, e); err != nil {
				t.Fatalf("set: %v", err)
			}

			got, err := s.Get(ctx, e.Key)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(got.Payload) != string(e.Payload) {
				t.Errorf("payload = %s, want %s", got.Payload, e.Payload)
			}
			if got.Status != 200 {
				t.Errorf("status = %d, want 200", got.Status)
			}
			if got.Expired() {
				t.Error("entry within TTL reported expired")
			}
			if s.Len() != 1 {
				t.Errorf("len = %d, want 1", s.Len())
			}

			if err := s.Delete(ctx, e.Key); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.Get(ctx, e.Key); !errors.Is(err, ErrNotFound) {
				t.Errorf("get after delete = %v, want ErrNotFound", err)
			}
			if s.Len() != 0 {
				t.Errorf("len after delete = %d, want 0", s.Len())
			}
		})
	}
}

func TestStore_DeletePrefix(t *testing.T) {
	for name, s := range storeFactories(t, Config{}) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				e := &Entry{
					Key:       fmt.Sprintf("GET /api/devices?id=%d", i),
					Payload:   []byte("x"),
					CreatedAt: time.Now(),
				}
				if err := s.Set(ctx, e); err != nil {
					t.Fatal(err)
				}
			}
			other := &Entry{Key: "GET /api/positions", Payload: []byte("y"), CreatedAt: time.Now()}
			if err := s.Set(ctx, other); err != nil {
				t.Fatal(err)
			}

			n, err := s.DeletePrefix(ctx, "GET /api/devices")
			if err != nil {
				t.Fatalf("delete prefix: %v", err)
			}
			if n != 3 {
				t.Errorf("deleted = %d, want 3", n)
			}
			if _, err := s.Get(ctx, other.Key); err != nil {
				t.Errorf("unrelated entry was removed: %v", err)
			}
		})
	}
}

func TestStore_StatsTracksHitsAndMisses(t *testing.T) {
	for name, s := range storeFactories(t, Config{}) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			ctx := context.Background()

			if _, err := s.Get(ctx, "GET /api/devices"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get on empty store = %v, want ErrNotFound", err)
			}

			e := &Entry{Key: "GET /api/devices", Payload: []byte("x"), CreatedAt: time.Now()}
			if err := s.Set(ctx, e); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Get(ctx, e.Key); err != nil {
				t.Fatal(err)
			}

			st := s.Stats()
			if st.Entries != 1 {
				t.Errorf("entries = %d, want 1", st.Entries)
			}
			if st.SizeBytes != e.Size() {
				t.Errorf("size = %d, want %d", st.SizeBytes, e.Size())
			}
			if st.Hits != 1 || st.Misses != 1 {
				t.Errorf("hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
			}
			if st.HitRatio != 0.5 {
				t.Errorf("hit ratio = %v, want 0.5", st.HitRatio)
			}
		})
	}
}

func TestStore_SizeEvictionOldestFirst(t *testing.T) {
	// Budget fits two entries of this shape but not three.
	budget := int64(2*(len("GET /api/a")+3+entryOverhead)) + 10

	for name, s := range storeFactories(t, Config{MaxSize: budget}) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			ctx := context.Background()

			base := time.Now().Add(-time.Minute)
			for i, key := range []string{"GET /api/a", "GET /api/b", "GET /api/c"} {
				e := &Entry{
					Key:       key,
					Payload:   []byte("abc"),
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				}
				if err := s.Set(ctx, e); err != nil {
					t.Fatal(err)
				}
			}

			if _, err := s.Get(ctx, "GET /api/a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("oldest entry should be evicted, got %v", err)
			}
			for _, key := range []string{"GET /api/b", "GET /api/c"} {
				if _, err := s.Get(ctx, key); err != nil {
					t.Errorf("newer entry %q evicted: %v", key, err)
				}
			}
			if s.SizeBytes() > budget {
				t.Errorf("size %d exceeds budget %d after eviction", s.SizeBytes(), budget)
			}
		})
	}
}

func TestStore_ExpiredEntryStillReturned(t *testing.T) {
	// Stale entries stay retrievable; freshness is the caller's call.
	for name, s := range storeFactories(t, Config{OfflineMode: true}) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			ctx := context.Background()

			e := &Entry{
				Key:       "GET /api/devices",
				Payload:   []byte("stale"),
				CreatedAt: time.Now().Add(-time.Hour),
				TTL:       time.Minute,
			}
			if err := s.Set(ctx, e); err != nil {
				t.Fatal(err)
			}

			got, err := s.Get(ctx, e.Key)
			if err != nil {
				t.Fatalf("expired entry not returned: %v", err)
			}
			if !got.Expired() {
				t.Error("entry should report expired")
			}
		})
	}
}

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	s := newMemoryStore(Config{})
	defer s.Close()
	ctx := context.Background()

	stale := &Entry{Key: "GET /api/a", CreatedAt: time.Now().Add(-time.Hour), TTL: time.Minute}
	fresh := &Entry{Key: "GET /api/b", CreatedAt: time.Now(), TTL: time.Hour}
	if err := s.Set(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	s.sweep()

	if _, err := s.Get(ctx, stale.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("sweep left expired entry: %v", err)
	}
	if _, err := s.Get(ctx, fresh.Key); err != nil {
		t.Errorf("sweep removed fresh entry: %v", err)
	}
}

func TestMemoryStore_SweepKeepsExpiredInOfflineMode(t *testing.T) {
	s := newMemoryStore(Config{OfflineMode: true})
	defer s.Close()
	ctx := context.Background()

	stale := &Entry{Key: "GET /api/a", CreatedAt: time.Now().Add(-time.Hour), TTL: time.Minute}
	if err := s.Set(ctx, stale); err != nil {
		t.Fatal(err)
	}

	s.sweep()

	if _, err := s.Get(ctx, stale.Key); err != nil {
		t.Errorf("offline-mode sweep removed stale entry: %v", err)
	}
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := newBadgerStore(Config{Backend: BackendBadger, Path: dir})
	if err != nil {
		t.Fatal(err)
	}

	e := &Entry{
		Key:       "GET /api/devices",
		Status:    200,
		Payload:   []byte(`[{"id":1}]`),
		CreatedAt: time.Now().Truncate(time.Millisecond),
		TTL:       time.Hour,
	}
	if err := s.Set(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := newBadgerStore(Config{Backend: BackendBadger, Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, e.Key)
	if err != nil {
		t.Fatalf("entry lost across reopen: %v", err)
	}
	if string(got.Payload) != string(e.Payload) {
		t.Errorf("payload = %s, want %s", got.Payload, e.Payload)
	}
	if reopened.Len() != 1 {
		t.Errorf("rebuilt count = %d, want 1", reopened.Len())
	}
}
