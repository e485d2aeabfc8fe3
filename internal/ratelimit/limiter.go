// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package ratelimit implements sliding-window admission control with an
// optional FIFO wait queue.
//
// A request is admissible when the number of admissions recorded within the
// trailing time window is below the configured maximum. Stale window entries
// are pruned lazily on every admission check. When the window is full,
// callers are either rejected immediately with a rate-limit error carrying
// the time until the oldest admission leaves the window, or parked on a
// bounded FIFO queue that a dispatcher re-checks periodically.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/trackgate/internal/apierr"
	"github.com/tomtom215/trackgate/internal/metrics"
)

// ErrReset is the terminal error delivered to queued tickets when the
// limiter is reset or closed.
var ErrReset = errors.New("rate limiter reset")

// Config controls a Limiter.
type Config struct {
	// MaxRequests is the number of admissions per TimeWindow.
	// Zero rejects every acquisition.
	MaxRequests int

	// TimeWindow is the trailing window duration. Must be positive.
	TimeWindow time.Duration

	// QueueRequests parks callers on a FIFO queue instead of rejecting
	// them when the window is full.
	QueueRequests bool

	// MaxQueueSize bounds the wait queue; zero means unbounded.
	MaxQueueSize int

	// RetryDelay is the interval at which the dispatcher re-checks the
	// queue against the window. Required when QueueRequests is set.
	RetryDelay time.Duration
}

// ticket is a pending admission request parked on the wait queue.
type ticket struct {
	done     chan error
	canceled bool
}

// Limiter is a sliding-window admission controller. All state is guarded by
// a single mutex per instance; a Limiter must not be shared across logical
// clients that need independent budgets.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	window []time.Time // admission timestamps, oldest first
	queue  []*ticket   // FIFO wait queue
	closed bool

	dispatcherRunning bool
	stop              chan struct{}
}

// New creates a Limiter. A non-positive TimeWindow is invalid configuration.
func New(cfg Config) (*Limiter, error) {
	if cfg.TimeWindow <= 0 {
		return nil, fmt.Errorf("ratelimit: time window must be positive, got %v", cfg.TimeWindow)
	}
	if cfg.QueueRequests && cfg.RetryDelay <= 0 {
		return nil, fmt.Errorf("ratelimit: retry delay must be positive when queuing is enabled")
	}
	return &Limiter{
		cfg:  cfg,
		stop: make(chan struct{}),
	}, nil
}

// TryAcquire attempts a non-blocking admission. It records the admission
// and returns true on success.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || !l.admissible(time.Now()) {
		metrics.RateLimitRejected.Inc()
		return false
	}

	l.admit(time.Now())
	return true
}

// Acquire blocks until a permit is granted or the request is rejected.
//
// Without queuing, a full window fails immediately with a rate-limit error
// carrying the wait until the oldest admission exits the window. With
// queuing, the caller is parked FIFO until the dispatcher grants it, the
// context is canceled, or the limiter is reset.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()
		return ErrReset
	}

	now := time.Now()
	if l.admissible(now) {
		l.admit(now)
		l.mu.Unlock()
		return nil
	}

	if !l.cfg.QueueRequests {
		wait := l.retryAfter(now)
		l.mu.Unlock()
		metrics.RateLimitRejected.Inc()
		return apierr.RateLimited("request rate limit exceeded", wait)
	}

	if l.cfg.MaxQueueSize > 0 && len(l.queue) >= l.cfg.MaxQueueSize {
		wait := l.retryAfter(now)
		l.mu.Unlock()
		metrics.RateLimitRejected.Inc()
		return apierr.RateLimited("rate limit queue full", wait)
	}

	t := &ticket{done: make(chan error, 1)}
	l.queue = append(l.queue, t)
	metrics.RateLimitQueueDepth.Set(float64(len(l.queue)))
	l.ensureDispatcher()
	l.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		l.mu.Lock()
		t.canceled = true
		l.mu.Unlock()
		return apierr.New(apierr.KindCanceled, "canceled while waiting for rate limit permit", ctx.Err())
	}
}

// Reset clears the window and fails every outstanding ticket with ErrReset.
// Intended for explicit operator reset, not normal operation. The limiter
// remains usable afterwards.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.window = l.window[:0]
	l.failQueueLocked()
}

// Close permanently shuts the limiter down, failing queued tickets and
// stopping the dispatcher. Subsequent acquisitions fail with ErrReset.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	l.failQueueLocked()
	close(l.stop)
}

// Pending returns the number of queued admission tickets.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, t := range l.queue {
		if !t.canceled {
			n++
		}
	}
	return n
}

// admissible reports whether the window has space after pruning.
// Must be called with the lock held.
func (l *Limiter) admissible(now time.Time) bool {
	l.prune(now)
	return len(l.window) < l.cfg.MaxRequests
}

// admit records an admission. Must be called with the lock held.
func (l *Limiter) admit(now time.Time) {
	l.window = append(l.window, now)
	metrics.RateLimitAcquired.Inc()
}

// prune drops timestamps older than the trailing window.
// Must be called with the lock held.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.TimeWindow)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

// retryAfter returns the time until the oldest admission exits the window.
// Must be called with the lock held.
func (l *Limiter) retryAfter(now time.Time) time.Duration {
	if len(l.window) == 0 {
		// MaxRequests == 0: nothing will ever free up within one window
		return l.cfg.TimeWindow
	}
	wait := l.window[0].Add(l.cfg.TimeWindow).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// ensureDispatcher starts the queue dispatcher if it is not running.
// Must be called with the lock held.
func (l *Limiter) ensureDispatcher() {
	if l.dispatcherRunning {
		return
	}
	l.dispatcherRunning = true
	go l.dispatch()
}

// dispatch grants queued tickets FIFO as window space frees up. It ticks at
// the configured retry delay and exits when the limiter is closed.
func (l *Limiter) dispatch() {
	ticker := time.NewTicker(l.cfg.RetryDelay)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.grantPending()
		}
	}
}

// grantPending admits as many queued tickets as the window allows,
// preserving FIFO order and skipping canceled tickets.
func (l *Limiter) grantPending() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for len(l.queue) > 0 && l.admissible(now) {
		t := l.queue[0]
		l.queue = l.queue[1:]
		if t.canceled {
			continue
		}
		l.admit(now)
		t.done <- nil
	}

	// Drop canceled tickets stuck at the head so the depth gauge is honest
	for len(l.queue) > 0 && l.queue[0].canceled {
		l.queue = l.queue[1:]
	}
	metrics.RateLimitQueueDepth.Set(float64(len(l.queue)))
}

// failQueueLocked rejects every queued ticket with ErrReset.
// Must be called with the lock held.
func (l *Limiter) failQueueLocked() {
	for _, t := range l.queue {
		if !t.canceled {
			t.done <- ErrReset
		}
	}
	l.queue = nil
	metrics.RateLimitQueueDepth.Set(0)
}
