// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package batch coalesces equivalent concurrent read requests into one
// scheduling unit.
//
// The upstream API has no native batch endpoint, so "batching" here means
// bounded concurrent fan-out with shared scheduling, not request merging:
// when a group flushes, every member's underlying call executes
// concurrently and each caller's future resolves independently. One
// member's failure never fails another.
package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/trackgate/internal/logging"
	"github.com/tomtom215/trackgate/internal/metrics"
	"github.com/tomtom215/trackgate/internal/transport"
)

// ErrCanceled is delivered to pending futures when the batcher is cleared
// or closed before their group flushed.
var ErrCanceled = errors.New("batch canceled")

// Config controls a Batcher.
type Config struct {
	// MaxBatchSize flushes a group immediately once it has this many
	// members. Must be at least 1.
	MaxBatchSize int

	// MaxWaitTime flushes a group this long after its first member
	// arrives, whether or not it filled up.
	MaxWaitTime time.Duration

	// BatchableEndpoints restricts coalescing to paths with one of these
	// prefixes. Empty means every batchable request qualifies.
	BatchableEndpoints []string
}

// Key identifies a batch group. Requests coalesce only with requests for
// the same method and path.
type Key struct {
	Method string
	Path   string
}

// member is one pending caller with its own result slot.
type member struct {
	ctx  context.Context
	exec transport.DoerFunc
	req  *transport.Request
	done chan outcome
}

type outcome struct {
	resp *transport.Response
	err  error
}

// group holds the pending members for one key plus their flush timer.
// A group is removed from the batcher the instant it is flushed.
type group struct {
	members []*member
	timer   *time.Timer
}

// Batcher coalesces same-key requests submitted concurrently.
type Batcher struct {
	cfg Config

	mu     sync.Mutex
	groups map[Key]*group
	closed bool
}

// New creates a Batcher.
func New(cfg Config) *Batcher {
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = 1
	}
	return &Batcher{
		cfg:    cfg,
		groups: make(map[Key]*group),
	}
}

// Accepts reports whether the request is eligible for coalescing: it must
// be a bodiless GET and, when an endpoint whitelist is configured, match
// one of the configured path prefixes.
func (b *Batcher) Accepts(req *transport.Request) bool {
	if !req.Batchable() {
		return false
	}
	if len(b.cfg.BatchableEndpoints) == 0 {
		return true
	}
	for _, prefix := range b.cfg.BatchableEndpoints {
		if strings.HasPrefix(req.Path, prefix) {
			return true
		}
	}
	return false
}

// Submit appends the caller to the group for the request's key and blocks
// until the caller's own call resolves. The first member of a group arms
// the flush timer; reaching MaxBatchSize flushes immediately.
//
// exec performs the caller's underlying upstream call when the group
// flushes.
func (b *Batcher) Submit(ctx context.Context, req *transport.Request, exec transport.DoerFunc) (*transport.Response, error) {
	m := &member{ctx: ctx, exec: exec, req: req, done: make(chan outcome, 1)}
	key := Key{Method: req.Method, Path: req.Path}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrCanceled
	}

	g, ok := b.groups[key]
	if !ok {
		g = &group{}
		b.groups[key] = g
		g.timer = time.AfterFunc(b.cfg.MaxWaitTime, func() {
			b.flush(key, "timer")
		})
	}
	g.members = append(g.members, m)
	full := len(g.members) >= b.cfg.MaxBatchSize
	b.mu.Unlock()

	if full {
		b.flush(key, "size")
	}

	select {
	case out := <-m.done:
		return out.resp, out.err
	case <-ctx.Done():
		// The member may still execute; the result slot is buffered so
		// the flusher never blocks on an abandoned caller.
		return nil, ctx.Err()
	}
}

// flush detaches the group for key and executes its members concurrently.
// The group is removed atomically, so a flush by size and a flush by timer
// can race without a group ever being processed twice or left half done.
func (b *Batcher) flush(key Key, trigger string) {
	b.mu.Lock()
	g, ok := b.groups[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.groups, key)
	b.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
	}

	metrics.BatchFlushes.WithLabelValues(trigger).Inc()
	metrics.BatchGroupSize.Observe(float64(len(g.members)))

	if len(g.members) == 1 {
		m := g.members[0]
		resp, err := m.exec(m.ctx, m.req)
		m.done <- outcome{resp: resp, err: err}
		return
	}

	logging.Debug().
		Str("method", key.Method).
		Str("path", key.Path).
		Int("members", len(g.members)).
		Str("trigger", trigger).
		Msg("Flushing batch group")

	var wg sync.WaitGroup
	for _, m := range g.members {
		wg.Add(1)
		go func(m *member) {
			defer wg.Done()
			resp, err := m.exec(m.ctx, m.req)
			m.done <- outcome{resp: resp, err: err}
		}(m)
	}
	wg.Wait()
}

// FlushAll drains every pending group immediately. Used at shutdown so
// queued work completes instead of being dropped.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	keys := make([]Key, 0, len(b.groups))
	for key := range b.groups {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	for _, key := range keys {
		b.flush(key, "drain")
	}
}

// Clear rejects every pending future with ErrCanceled and drops all groups.
func (b *Batcher) Clear() {
	b.mu.Lock()
	groups := b.groups
	b.groups = make(map[Key]*group)
	b.mu.Unlock()

	for _, g := range groups {
		if g.timer != nil {
			g.timer.Stop()
		}
		for _, m := range g.members {
			m.done <- outcome{err: ErrCanceled}
		}
	}
}

// Close drains pending groups and rejects anything submitted afterwards.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.FlushAll()
}

// Pending returns the number of groups currently accumulating members.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups)
}
